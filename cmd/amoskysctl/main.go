// amoskysctl is the AMOSKYS operator CLI: inspect an LDQ/WAL file or
// check a running agent's circuit-breaker state without touching the
// owning process's files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "amoskysctl",
		Short: "Operator CLI for AMOSKYS queues and circuit state",
	}
	root.AddCommand(newInspectLDQCommand())
	root.AddCommand(newInspectWALCommand())
	root.AddCommand(newCircuitStateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
