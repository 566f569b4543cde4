// Package cli — status.go implements the "scriptsign status" command.
//
// The status command runs the same liveness probe the sign workflow uses as
// its hard precondition, as a standalone diagnostic: is the signing service
// reachable, and is its signing runtime ready to take requests? Operators
// run it after starting the service, or to triage a failing sign run.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/takumi-ono/scriptsign/internal/signing"
)

// statusFlags holds the flag values for the status command.
type statusFlags struct {
	serviceURL string // --service-url: signing service base URL override
}

// NewStatusCommand creates the "status" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewStatusCommand() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that the signing service is ready",
		Long: `Check that the signing service is reachable and its signing runtime
is available.

This is the same preflight check the sign command performs before
submitting a signing request. Exit code zero means a sign run would
pass the check right now.

Examples:
  scriptsign status
  scriptsign status --service-url http://localhost:20100`,

		// No positional arguments are required for the status command.
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.serviceURL, "service-url", "",
		"Signing service base URL (default: from config file or "+signing.DefaultServiceURL+")")

	return cmd
}

// runStatus is the main logic function for the status command.
// It probes the service and reports the outcome; an unreachable service or
// unavailable runtime surfaces as the probe's error.
func runStatus(ctx context.Context, flags *statusFlags) error {
	// Step 1: Load the optional config file.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 2: Probe the service.
	client := newServiceClient(flags.serviceURL, cfg)
	VerboseLog("Probing signing service at %s", client.BaseURL())

	if err := client.CheckRuntime(ctx); err != nil {
		return err
	}

	// Step 3: Output the result.
	printStatusResult(client.BaseURL())
	return nil
}

// printStatusResult outputs the status command result in text or JSON format.
func printStatusResult(serviceURL string) {
	if IsJSONOutput() {
		result := map[string]interface{}{
			"serviceUrl": serviceURL,
			"available":  true,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Signing service at %s is ready\n", serviceURL)
	}
}
