// Watchpostctl is the operator CLI for watchpost: it scans narrative text for
// lost and found record references and issues agent tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "watchpostctl",
		Short: "Operator tools for the watchpost alert service",
		Long: `watchpostctl bundles offline operator tools for watchpost.

Examples:
  watchpostctl refs narrative.txt                       # Extract record references
  echo "found item ABC-OT-2026-4" | watchpostctl refs   # Read from stdin
  watchpostctl refs --lookup-url https://records.internal narrative.txt
  watchpostctl token --station ABC --agent agent-1      # Issue an agent token`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRefsCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
