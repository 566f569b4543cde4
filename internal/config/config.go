package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/takumi-ono/scriptsign/internal/model"
	"github.com/takumi-ono/scriptsign/internal/port"
)

// discoveryNames are the file names probed during discovery, in priority
// order. The first existing file wins; the others are not consulted.
var discoveryNames = []string{
	".scriptsign.jsonc",
	".scriptsign.json",
	".scriptsign.yaml",
	".scriptsign.yml",
}

// Config is the file-based configuration. The zero value is a valid
// configuration in which every lookup falls through to the built-in
// defaults.
//
// Fields carry both json and yaml struct tags because the same shape is
// decoded from JSONC and YAML files.
type Config struct {
	// ServiceURL is the base URL of the signing service. Empty means the
	// built-in default (http://localhost:20000).
	ServiceURL string `json:"serviceUrl" yaml:"serviceUrl" validate:"omitempty,url"`

	// TimestampServer is the default RFC 3161 timestamp authority URL to
	// countersign with. Empty means no timestamp.
	TimestampServer string `json:"timestampServer" yaml:"timestampServer" validate:"omitempty,url"`

	// CertThumbprint is the default signing certificate fingerprint.
	CertThumbprint string `json:"certThumbprint" yaml:"certThumbprint"`

	// PfxPath is the default PFX container path. Existence is checked by
	// the signing workflow, not here, so a config file can name a PFX that
	// is only mounted later.
	PfxPath string `json:"pfxPath" yaml:"pfxPath"`

	// PortScan bounds the free-port command's scan range.
	PortScan PortScanConfig `json:"portScan" yaml:"portScan"`
}

// PortScanConfig holds the scan bounds for the free-port command.
// A zero bound means "use the built-in default" and skips validation.
type PortScanConfig struct {
	// Start is the first port probed.
	Start int `json:"start" yaml:"start" validate:"omitempty,port"`

	// End is the last port probed (inclusive).
	End int `json:"end" yaml:"end" validate:"omitempty,port"`
}

// PortRange returns the effective scan bounds: the configured values where
// set, the built-in defaults otherwise.
func (c *Config) PortRange() (start, end int) {
	start, end = port.DefaultStartPort, port.DefaultEndPort
	if c.PortScan.Start != 0 {
		start = c.PortScan.Start
	}
	if c.PortScan.End != 0 {
		end = c.PortScan.End
	}
	return start, end
}

// validate is the package-wide validator instance. Validation rules live in
// struct tags on Config; the instance only adds the custom "port" rule and
// json-tag field names for readable messages.
var validate = newValidator()

// newValidator builds the validator with the custom rules Config uses.
func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields under their json tag name, which matches what the
	// operator actually wrote in the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("port", validatePort)
	return v
}

// validatePort accepts integer fields in the valid TCP port range.
func validatePort(fl validator.FieldLevel) bool {
	p := fl.Field().Int()
	return p >= 1 && p <= 65535
}

// validationMessage renders a single field failure as a human-readable
// phrase for the tags Config actually uses.
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "url":
		return "must be a valid URL"
	case "port":
		return "must be a TCP port between 1 and 65535"
	default:
		return fmt.Sprintf("failed validation rule %q", fe.Tag())
	}
}

// Validate checks the configuration against its struct tag rules and
// returns a single error naming every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Field(), validationMessage(fe)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Load reads, decodes, and validates the config file at path. The decoder
// is chosen by extension: .yaml and .yml parse as YAML, everything else as
// JSONC (which also accepts plain JSON).
//
// A missing or invalid file is an invalid-argument failure; config
// problems must surface before any network call is made.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewCLIError(model.KindInvalidArgument,
				fmt.Sprintf("config file not found: %s", path))
		}
		return nil, model.WrapCLIError(model.KindInvalidArgument,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, model.WrapCLIError(model.KindInvalidArgument,
				fmt.Sprintf("cannot parse config file %s", path), err)
		}
	default:
		// Strip JSONC comments and trailing commas before handing the
		// bytes to encoding/json. Unknown fields are silently ignored.
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, model.WrapCLIError(model.KindInvalidArgument,
				fmt.Sprintf("cannot parse config file %s", path), err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.KindInvalidArgument,
			fmt.Sprintf("invalid config file %s", path), err)
	}
	return cfg, nil
}

// Discover probes dir for a config file under the well-known names and
// loads the first one found. It returns the loaded configuration and the
// path it came from; when no file exists it returns an empty configuration
// and an empty path, which is not an error.
func Discover(dir string) (*Config, string, error) {
	for _, name := range discoveryNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}
	return &Config{}, "", nil
}
