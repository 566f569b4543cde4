// Package cli — freeport.go implements the "scriptsign free-port" command.
//
// The free-port command scans a bounded port range on localhost and prints
// the first port with no listener. Operators use it to pick a port before
// starting the signing service; the command itself never talks to the
// service and shares nothing with the signing workflow at runtime.
//
// In text mode the output is the bare port number, so shell scripts can
// capture it directly, but they must check the exit code first: on an
// exhausted range nothing usable is written to stdout and the command
// exits non-zero.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/takumi-ono/scriptsign/internal/model"
	"github.com/takumi-ono/scriptsign/internal/port"
)

// freePortFlags holds the flag values for the free-port command.
type freePortFlags struct {
	start int // --start: first port to probe
	end   int // --end: last port to probe, inclusive
}

// NewFreePortCommand creates the "free-port" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewFreePortCommand() *cobra.Command {
	flags := &freePortFlags{}

	cmd := &cobra.Command{
		Use:   "free-port",
		Short: "Find the first free TCP port in a range",
		Long: `Scan a port range on localhost and print the first port without a
listener.

Ports are probed in ascending order with a short-timeout TCP connection,
so the lowest free port in the range always wins. When every port in the
range is occupied the command exits non-zero and prints nothing usable
to stdout.

Examples:
  scriptsign free-port
  scriptsign free-port --start 20000 --end 20100
  SERVICE_PORT=$(scriptsign free-port) || exit 1`,

		// No positional arguments are required for the free-port command.
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runFreePort(cmd, flags)
		},
	}

	// Register command-specific flags. The defaults shown in help are the
	// built-in bounds; a config file's portScan section replaces them
	// unless the flag is given explicitly.
	cmd.Flags().IntVar(&flags.start, "start", port.DefaultStartPort, "First port to probe")
	cmd.Flags().IntVar(&flags.end, "end", port.DefaultEndPort, "Last port to probe (inclusive)")

	return cmd
}

// runFreePort is the main logic function for the free-port command.
// It resolves the scan bounds, runs the scan, and prints the found port.
func runFreePort(cmd *cobra.Command, flags *freePortFlags) error {
	// Step 1: Load the optional config file.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 2: Resolve the scan bounds. An explicitly set flag beats the
	// config file, which beats the built-in defaults. Flags.Changed
	// distinguishes "--start 11000" from the flag's default value.
	start, end := cfg.PortRange()
	if cmd.Flags().Changed("start") {
		start = flags.start
	}
	if cmd.Flags().Changed("end") {
		end = flags.end
	}

	if start < 1 || start > 65535 || end < 1 || end > 65535 {
		return model.NewCLIError(model.KindInvalidArgument,
			fmt.Sprintf("port bounds must be between 1 and 65535 (got %d-%d)", start, end))
	}

	// Step 3: Scan. An inverted range is an empty scan and reports
	// exhaustion, not an argument error.
	VerboseLog("Scanning ports %d-%d on localhost", start, end)

	prober := port.NewProber()
	freePort, err := prober.FindAvailablePort(start, end)
	if err != nil {
		return err
	}
	VerboseLog("Port %d is free", freePort)

	// Step 4: Output the result.
	printFreePortResult(freePort, start, end)
	return nil
}

// printFreePortResult outputs the free-port result in text or JSON format.
// Text mode prints the bare port number so callers can capture stdout
// directly.
func printFreePortResult(freePort, start, end int) {
	if IsJSONOutput() {
		result := map[string]interface{}{
			"port":  freePort,
			"start": start,
			"end":   end,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Println(freePort)
	}
}
