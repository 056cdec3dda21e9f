// Command nyxctl is the operator-facing CLI for the nyxkern host
// simulation: boot brings the kernel core up against a disk image,
// serve-metrics exposes the allocator, cache, and scheduler gauges the
// kernel packages track, and profile dumps and summarizes a CPU profile
// of the host process running the simulation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nyxctl",
		Short: "Operate and inspect a nyxkern host simulation",
	}
	cmd.AddCommand(newBootCmd())
	cmd.AddCommand(newServeMetricsCmd())
	cmd.AddCommand(newProfileCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
