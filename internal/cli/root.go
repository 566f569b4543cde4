// Package cli implements the cobra-based CLI commands for scriptsign.
//
// Each subcommand (sign, verify, certs, status, free-port) is defined in its
// own file within this package. This file defines the root command that
// serves as the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/takumi-ono/scriptsign/internal/config"
	"github.com/takumi-ono/scriptsign/internal/model"
	"github.com/takumi-ono/scriptsign/internal/signing"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// When true, all output uses structured JSON format for machine consumption.
	// When false (default), output uses human-readable text format.
	jsonOutput bool

	// verbose enables detailed logging output for debugging.
	// When true, additional information about operations is printed to stderr.
	verbose bool

	// configPath names an explicit config file. When empty, the well-known
	// file names are probed in the working directory instead.
	configPath string
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// The root command itself does not perform any action; it only provides
// help text and global flags. Actual functionality is provided by
// subcommands (sign, verify, certs, status, free-port).
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		// Use is the one-line usage pattern shown in help output.
		Use:   "scriptsign",
		Short: "Sign and verify scripts via a local code-signing service",
		Long: `scriptsign orchestrates script signing against a local code-signing service:
it discovers available certificates, submits signing requests, and re-verifies
each signature immediately after signing.

The signing service itself (default http://localhost:20000) performs the
cryptography; scriptsign drives the workflow. A free-port helper is included
for picking the port to run the service on.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		// Version is displayed when --version flag is used.
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	// PersistentFlags are inherited by all subcommands. This is the cobra
	// mechanism for global flags: any flag defined here is automatically
	// available in every subcommand without re-declaration.
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: .scriptsign.{jsonc,json,yaml,yml} in the working directory)")

	// Register subcommands. Each subcommand is defined in its own file
	// (sign.go, certs.go, etc.) and returns a *cobra.Command.
	rootCmd.AddCommand(NewSignCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewCertsCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewFreePortCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// It inspects errors returned by cobra commands and translates them into
// OS exit codes. Every failure exits with model.ExitFailure; error kinds
// differentiate the message shown, not the exit code, so callers only have
// to distinguish zero from non-zero.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		// errors.As rather than a type assertion, so a CLIError wrapped
		// deeper in the chain still surfaces its kind.
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(string(cliErr.Kind), cliErr.Message, cliErr.Err)
			os.Exit(int(model.ExitFailure))
		}

		// Generic error — no kind to report.
		printError("", err.Error(), nil)
		os.Exit(int(model.ExitFailure))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(kind, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if errMap, ok := errObj["error"].(map[string]interface{}); ok {
			if kind != "" {
				errMap["kind"] = kind
			}
			if underlying != nil {
				errMap["detail"] = underlying.Error()
			}
		}
		// json.MarshalIndent produces human-readable JSON with indentation.
		// We write to stderr for errors, even in JSON mode, because stdout
		// is reserved for successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		// Text format: "Error: <message>" on stderr.
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// VerboseLog prints a message to stderr only when verbose mode is enabled.
// This is used throughout the CLI for debug/trace output that helps
// users understand what operations are being performed.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig resolves the configuration for one command run: the file named
// by --config when given, otherwise discovery in the working directory. An
// absent file yields the zero configuration, so every downstream lookup
// falls through to the built-in defaults.
//
// This is a shared helper: every subcommand loads its configuration here
// as its first step, before any filesystem or network work.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		VerboseLog("Loaded config from %s", configPath)
		return cfg, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, model.WrapCLIError(model.KindInvalidArgument,
			"failed to get current directory", err)
	}

	cfg, path, err := config.Discover(cwd)
	if err != nil {
		return nil, err
	}
	if path != "" {
		VerboseLog("Loaded config from %s", path)
	}
	return cfg, nil
}

// newServiceClient builds a signing service client, applying the flag >
// config file > built-in default precedence to the base URL. An empty
// flag and an empty config field leave the client on its default URL.
func newServiceClient(flagURL string, cfg *config.Config) *signing.Client {
	url := flagURL
	if url == "" {
		url = cfg.ServiceURL
	}
	return signing.NewClient(url)
}
