// Package cli — verify.go implements the "scriptsign verify" command.
//
// The verify command checks the signature on an existing script without
// re-signing it. Unlike the verification echo inside "sign", which is a
// best-effort sanity check after a successful signing, standalone
// verification is the operation itself: anything short of a clean "Valid"
// status exits non-zero.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/takumi-ono/scriptsign/internal/model"
	"github.com/takumi-ono/scriptsign/internal/signing"
)

// verifyFlags holds the flag values for the verify command.
type verifyFlags struct {
	serviceURL string // --service-url: signing service base URL override
}

// NewVerifyCommand creates the "verify" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewVerifyCommand() *cobra.Command {
	flags := &verifyFlags{}

	cmd := &cobra.Command{
		Use:   "verify <script>",
		Short: "Verify the signature on a script",
		Long: `Verify the signature on a script file via the signing service.

The command exits zero only when the script carries an intact, trusted
signature (status "Valid"). Any other status, such as not signed, hash
mismatch, or an untrusted chain, exits non-zero with the reported status.

Examples:
  scriptsign verify deploy.ps1
  scriptsign verify --json deploy.ps1`,

		// Exactly one positional argument (script path) is required.
		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.serviceURL, "service-url", "",
		"Signing service base URL (default: from config file or "+signing.DefaultServiceURL+")")

	return cmd
}

// runVerify is the main logic function for the verify command.
// It canonicalizes the script path, asks the service for the signature
// status, and maps that status onto the exit code.
func runVerify(ctx context.Context, scriptPath string, flags *verifyFlags) error {
	// Step 1: Load the optional config file.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 2: Canonicalize the script path. Same invariant as signing: the
	// path sent to the service is absolute and exists, checked before any
	// network call.
	absPath, err := signing.ResolveScriptPath(scriptPath)
	if err != nil {
		return err
	}
	VerboseLog("Script resolved to %s", absPath)

	// Step 3: Ask the service for the signature status.
	client := newServiceClient(flags.serviceURL, cfg)
	VerboseLog("Using signing service at %s", client.BaseURL())

	data, err := client.VerifySignature(ctx, absPath)
	if err != nil {
		return err
	}
	VerboseLog("Verification status: %s", data.Status)

	// Step 4: Map the status onto the exit code. Only "Valid" is success.
	if !data.Valid() {
		msg := fmt.Sprintf("signature on %s is not valid: status %s", absPath, data.Status)
		if data.StatusMessage != "" {
			msg = fmt.Sprintf("%s (%s)", msg, data.StatusMessage)
		}
		return model.NewCLIError(model.KindSignatureInvalid, msg)
	}

	// Step 5: Output the result.
	printVerifyResult(absPath, data)
	return nil
}

// printVerifyResult outputs the verify command result in text or JSON format.
func printVerifyResult(scriptPath string, data *model.VerifyData) {
	if IsJSONOutput() {
		printVerifyResultJSON(scriptPath, data)
	} else {
		printVerifyResultText(scriptPath, data)
	}
}

// printVerifyResultJSON outputs the verify result as structured JSON.
func printVerifyResultJSON(scriptPath string, data *model.VerifyData) {
	type resultJSON struct {
		ScriptPath    string `json:"scriptPath"`
		Status        string `json:"status"`
		StatusMessage string `json:"statusMessage,omitempty"`
		Valid         bool   `json:"valid"`
	}

	result := resultJSON{
		ScriptPath:    scriptPath,
		Status:        data.Status,
		StatusMessage: data.StatusMessage,
		Valid:         data.Valid(),
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

// printVerifyResultText outputs the verify result as human-readable text.
func printVerifyResultText(scriptPath string, data *model.VerifyData) {
	fmt.Printf("Signature on %s is valid\n", scriptPath)
	if data.StatusMessage != "" {
		fmt.Printf("  %s\n", data.StatusMessage)
	}
}
