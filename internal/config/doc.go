// Package config loads the optional scriptsign configuration file.
//
// A config file lets an operator pin the signing service URL, a default
// signing identity, and the port-scan range once instead of repeating them
// as flags. The file is discovered in the working directory under the
// well-known names .scriptsign.jsonc, .scriptsign.json, .scriptsign.yaml,
// and .scriptsign.yml, or given explicitly via the --config flag.
//
// JSONC (JSON with Comments) files are parsed with github.com/tidwall/jsonc
// before decoding with encoding/json; YAML files decode via gopkg.in/yaml.v3.
// Loaded values are validated with github.com/go-playground/validator/v10,
// and an invalid file aborts the command before any network call.
//
// Every field is optional. An absent file or an unset field falls through to
// the built-in defaults, and command-line flags override the file in all
// cases. The loaded Config is threaded explicitly into the commands; nothing
// reads configuration mid-workflow.
package config
