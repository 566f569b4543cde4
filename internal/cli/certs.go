// Package cli — certs.go implements the "scriptsign certs" command.
//
// The certs command queries the signing service's certificate inventory and
// presents it as a text table or JSON array, depending on the --json flag.
// It is the sign command's certificate listing made directly invocable: the
// same service-defined ordering, the same rendering.
//
// An empty inventory is an error (there is nothing to sign with), matching
// the sign command's behavior when no identity is supplied and none exists.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/takumi-ono/scriptsign/internal/model"
	"github.com/takumi-ono/scriptsign/internal/signing"
)

// certsFlags holds the flag values for the certs command.
// These are bound to cobra flags in NewCertsCommand.
type certsFlags struct {
	serviceURL string // --service-url: signing service base URL override
}

// NewCertsCommand creates the "certs" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewCertsCommand() *cobra.Command {
	flags := &certsFlags{}

	cmd := &cobra.Command{
		Use:   "certs",
		Short: "List available code-signing certificates",
		Long: `List the code-signing certificates the signing service can use.

Each certificate is shown with its subject, thumbprint, and expiry date,
in the order the service enumerates them. Pass a thumbprint from this
list to "scriptsign sign --thumbprint" to select a signing identity.

Examples:
  scriptsign certs
  scriptsign certs --json
  scriptsign certs --service-url http://localhost:20100`,

		// No positional arguments are required for the certs command.
		Args: cobra.NoArgs,

		// RunE returns an error to the root command's error handler.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCerts(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.serviceURL, "service-url", "",
		"Signing service base URL (default: from config file or "+signing.DefaultServiceURL+")")

	return cmd
}

// runCerts is the main logic function for the certs command.
// It checks the service is up, fetches the inventory, and outputs it in the
// appropriate format.
func runCerts(ctx context.Context, flags *certsFlags) error {
	// Step 1: Load the optional config file.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 2: Build the service client.
	client := newServiceClient(flags.serviceURL, cfg)
	VerboseLog("Using signing service at %s", client.BaseURL())

	// Step 3: Liveness check. The inventory is enumerated by the signing
	// runtime, so an unavailable runtime means there is no inventory to
	// list; same precondition as the sign workflow.
	if err := client.CheckRuntime(ctx); err != nil {
		return err
	}
	VerboseLog("Signing service is ready")

	// Step 4: Fetch the inventory. The service-defined order is preserved
	// all the way to the output.
	certs, err := client.ListCertificates(ctx)
	if err != nil {
		return err
	}
	VerboseLog("Found %d certificate(s)", len(certs))

	if len(certs) == 0 {
		return model.NewCLIError(model.KindNoCertificatesFound,
			"no code-signing certificates are available; create one, or supply a PFX file with --pfx")
	}

	// Step 5: Output results in the appropriate format.
	printCertsResult(certs)
	return nil
}

// printCertsResult outputs the certificate inventory in text or JSON
// format, depending on the global --json flag.
func printCertsResult(certs []model.CertificateDescriptor) {
	if IsJSONOutput() {
		printCertsResultJSON(certs)
	} else {
		printCertsResultText(certs)
	}
}

// certJSON is the JSON output structure for a single certificate. It is
// shared with the sign command's certificate-choice output so both commands
// render the inventory identically.
type certJSON struct {
	Subject    string `json:"subject"`
	Thumbprint string `json:"thumbprint"`
	NotAfter   string `json:"notAfter"`
	Expired    bool   `json:"expired"`
}

// certificateListJSON converts the inventory into its JSON output form,
// preserving the service-defined order.
func certificateListJSON(certs []model.CertificateDescriptor) []certJSON {
	now := time.Now()

	// Use an empty slice instead of nil to ensure JSON output shows []
	// instead of null when no certificates are present.
	out := make([]certJSON, 0, len(certs))
	for i := range certs {
		cert := &certs[i]
		out = append(out, certJSON{
			Subject:    cert.Subject,
			Thumbprint: cert.Thumbprint,
			NotAfter:   cert.NotAfter.Format(time.RFC3339),
			Expired:    cert.Expired(now),
		})
	}
	return out
}

// printCertsResultJSON outputs the inventory as structured JSON.
// The top-level key is "certificates" containing an array of certificate objects.
func printCertsResultJSON(certs []model.CertificateDescriptor) {
	type resultJSON struct {
		Certificates []certJSON `json:"certificates"`
	}

	result := resultJSON{Certificates: certificateListJSON(certs)}

	// MarshalIndent produces human-readable JSON with 2-space indentation.
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// printCertsResultText outputs the inventory as a human-readable text table.
func printCertsResultText(certs []model.CertificateDescriptor) {
	fmt.Print(FormatCertificateTable(certs, time.Now()))
}

// FormatCertificateTable renders the certificate inventory as a text table
// with aligned columns. Rows keep the service-defined order; the inventory
// is never re-sorted, so row N here is row N in the service's enumeration.
// Certificates whose validity ended before the reference time are marked.
//
// This function is exported for testing purposes (tested in certs_test.go).
//
// The table format is:
//
//	SUBJECT                        THUMBPRINT                                EXPIRES
//	CN=Dev Code Signing            A1B2C3D4E5F6A7B8C9D0E1F2A3B4C5D6E7F8A9B0  2027-04-01
//	CN=Old Release Key             0F1E2D3C4B5A69788796A5B4C3D2E1F001122334  2024-01-31 (expired)
func FormatCertificateTable(certs []model.CertificateDescriptor, ref time.Time) string {
	var b strings.Builder

	// Print header row.
	fmt.Fprintf(&b, "%-30s %-41s %s\n", "SUBJECT", "THUMBPRINT", "EXPIRES")

	for i := range certs {
		cert := &certs[i]

		expires := cert.NotAfter.Format("2006-01-02")
		if cert.Expired(ref) {
			expires += " (expired)"
		}

		// Print one row per certificate with fixed-width columns. The
		// thumbprint column fits a 40-hex-digit SHA-1 fingerprint.
		fmt.Fprintf(&b, "%-30s %-41s %s\n", cert.Subject, cert.Thumbprint, expires)
	}

	return b.String()
}
