// Package cli — sign.go implements the "scriptsign sign" command.
//
// The sign command is the primary user-facing operation. It drives the full
// signing workflow against the local code-signing service:
//
//  1. Load the optional config file
//  2. Resolve the signing identity (flags over config)
//  3. Canonicalize the script path (and PFX path, when given)
//  4. Check the service's liveness and runtime availability
//  5. Without an identity: list the available certificates and stop
//  6. Submit the signing request
//  7. Re-verify the fresh signature and report the outcome
//
// Steps 3-7 live in signing.Workflow; this file resolves inputs and renders
// the result. Certificate selection is deliberately left to the operator:
// when no identity is supplied the command prints the inventory and exits
// zero without signing, even when only one certificate exists.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/takumi-ono/scriptsign/internal/signing"
)

// signFlags holds the flag values for the sign command.
// These are bound to cobra flags in NewSignCommand.
type signFlags struct {
	thumbprint      string // --thumbprint: keystore certificate fingerprint
	pfxPath         string // --pfx: PFX container file path
	pfxPassword     string // --pfx-password: password for the PFX container
	timestampServer string // --timestamp-server: RFC 3161 countersigning URL
	serviceURL      string // --service-url: signing service base URL override
}

// NewSignCommand creates the "sign" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewSignCommand() *cobra.Command {
	flags := &signFlags{}

	cmd := &cobra.Command{
		Use:   "sign <script>",
		Short: "Sign a script and verify the fresh signature",
		Long: `Sign a script file via the local code-signing service.

The signing identity is either a keystore certificate selected by its
thumbprint, or a PFX container file with its password. When neither is
given, the command lists the available certificates and stops without
signing; picking an identity is always an explicit decision.

After a successful signing the signature is immediately re-verified.
The verification outcome is informational: a failed check is reported
as a warning and does not change the exit code.

Examples:
  scriptsign sign deploy.ps1
  scriptsign sign --thumbprint AB12CD34EF56 deploy.ps1
  scriptsign sign --pfx dev-signing.pfx --pfx-password secret deploy.ps1
  scriptsign sign --thumbprint AB12CD34EF56 --timestamp-server http://ts.example.com deploy.ps1`,

		// Args validates that exactly one positional argument (script path) is provided.
		Args: cobra.ExactArgs(1),

		// RunE is used instead of Run so we can return errors. Cobra will
		// pass them to the Execute error handler in root.go.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd.Context(), args[0], flags)
		},
	}

	// Register command-specific flags.
	cmd.Flags().StringVar(&flags.thumbprint, "thumbprint", "", "Thumbprint of the signing certificate")
	cmd.Flags().StringVar(&flags.pfxPath, "pfx", "", "Path to a PFX file holding the signing certificate")
	cmd.Flags().StringVar(&flags.pfxPassword, "pfx-password", "", "Password for the PFX file")
	cmd.Flags().StringVar(&flags.timestampServer, "timestamp-server", "", "RFC 3161 timestamp server URL")
	cmd.Flags().StringVar(&flags.serviceURL, "service-url", "",
		"Signing service base URL (default: from config file or "+signing.DefaultServiceURL+")")

	return cmd
}

// runSign is the main orchestration function for the sign command.
// It resolves the effective inputs, runs the signing workflow, and renders
// the result.
func runSign(ctx context.Context, scriptPath string, flags *signFlags) error {
	// Step 1: Load the optional config file.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 2: Resolve the signing identity. An identity given on the
	// command line replaces the config file's identity entirely, so a
	// configured PFX never rides along with an explicit --thumbprint.
	// The service expects exactly one of the two.
	thumbprint := flags.thumbprint
	pfxPath := flags.pfxPath
	if thumbprint == "" && pfxPath == "" {
		thumbprint = cfg.CertThumbprint
		pfxPath = cfg.PfxPath
	}

	timestampServer := flags.timestampServer
	if timestampServer == "" {
		timestampServer = cfg.TimestampServer
	}

	// Step 3: Build the service client and the workflow on top of it.
	client := newServiceClient(flags.serviceURL, cfg)
	VerboseLog("Using signing service at %s", client.BaseURL())

	workflow := signing.NewWorkflow(client)
	workflow.SetLogf(VerboseLog)

	// Step 4: Run the workflow. Path resolution, the liveness check, the
	// certificate decision, signing, and the verification echo all happen
	// inside Run, strictly in that order.
	result, err := workflow.Run(ctx, signing.RunOptions{
		ScriptPath:      scriptPath,
		CertThumbprint:  thumbprint,
		PfxPath:         pfxPath,
		PfxPassword:     flags.pfxPassword,
		TimestampServer: timestampServer,
	})
	if err != nil {
		return err
	}

	// Step 5: Output the result. A certificate-choice pause is a successful,
	// informational run and exits zero.
	printSignResult(result)
	return nil
}

// printSignResult outputs the sign command result in text or JSON format.
func printSignResult(result *signing.RunResult) {
	if IsJSONOutput() {
		printSignResultJSON(result)
	} else {
		printSignResultText(result)
	}
}

// printSignResultJSON outputs the sign result as structured JSON.
func printSignResultJSON(result *signing.RunResult) {
	type signJSON struct {
		Status        string `json:"status"`
		SignedBy      string `json:"signedBy"`
		TimeStamper   string `json:"timeStamper,omitempty"`
		SignatureType string `json:"signatureType,omitempty"`
	}

	type verifyJSON struct {
		Status        string `json:"status"`
		StatusMessage string `json:"statusMessage,omitempty"`
		Valid         bool   `json:"valid"`
	}

	type resultJSON struct {
		Action       string      `json:"action"`
		ScriptPath   string      `json:"scriptPath"`
		Certificates []certJSON  `json:"certificates,omitempty"`
		Sign         *signJSON   `json:"sign,omitempty"`
		Verify       *verifyJSON `json:"verify,omitempty"`
		VerifyError  string      `json:"verifyError,omitempty"`
	}

	out := resultJSON{
		ScriptPath: result.ScriptPath,
	}

	switch result.Outcome {
	case signing.OutcomeCertificateChoice:
		out.Action = "certificate-choice"
		out.Certificates = certificateListJSON(result.Certificates)

	case signing.OutcomeSigned:
		out.Action = "signed"
		out.Sign = &signJSON{
			Status:        result.Sign.Status,
			SignedBy:      result.Sign.SignedBy,
			TimeStamper:   result.Sign.TimeStamper,
			SignatureType: result.Sign.SignatureType,
		}
		if result.Verify != nil {
			out.Verify = &verifyJSON{
				Status:        result.Verify.Status,
				StatusMessage: result.Verify.StatusMessage,
				Valid:         result.Verify.Valid(),
			}
		}
		if result.VerifyErr != nil {
			out.VerifyError = result.VerifyErr.Error()
		}
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

// printSignResultText outputs the sign result as human-readable text.
func printSignResultText(result *signing.RunResult) {
	switch result.Outcome {
	case signing.OutcomeCertificateChoice:
		fmt.Println("No certificate specified. Available code-signing certificates:")
		fmt.Println()
		fmt.Print(FormatCertificateTable(result.Certificates, time.Now()))
		fmt.Println()
		fmt.Println("Re-run with --thumbprint <thumbprint> to sign, or supply a PFX file with --pfx.")

	case signing.OutcomeSigned:
		fmt.Printf("Signed %s\n", result.ScriptPath)
		fmt.Printf("  Status:     %s\n", result.Sign.Status)
		fmt.Printf("  Signed by:  %s\n", result.Sign.SignedBy)
		if result.Sign.TimeStamper != "" {
			fmt.Printf("  Timestamp:  %s\n", result.Sign.TimeStamper)
		}
		if result.Sign.SignatureType != "" {
			fmt.Printf("  Type:       %s\n", result.Sign.SignatureType)
		}

		printVerifyEcho(result)
	}
}

// printVerifyEcho reports the post-sign verification outcome. Signing
// already succeeded at this point, so anything short of a clean "Valid" is
// a warning on stderr; stdout stays reserved for the signing outcome.
func printVerifyEcho(result *signing.RunResult) {
	if result.VerifyErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not verify the fresh signature: %v\n", result.VerifyErr)
		return
	}
	if result.Verify == nil {
		return
	}

	if result.Verify.Valid() {
		fmt.Printf("  Verified:   %s\n", result.Verify.Status)
		return
	}

	msg := result.Verify.Status
	if result.Verify.StatusMessage != "" {
		msg = fmt.Sprintf("%s (%s)", result.Verify.Status, result.Verify.StatusMessage)
	}
	fmt.Fprintf(os.Stderr, "Warning: verification reported status %s\n", msg)
}
