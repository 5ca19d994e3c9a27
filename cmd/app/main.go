package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	root := &cobra.Command{
		Use:   "eosfit",
		Short: "Equation-of-state fitting for solids",
		Long: `Fits volume/energy or volume/pressure data to seven equation-of-state
models, derives P, E and H curves from fitted parameters and locates
pressure-induced phase transitions. Runs once from the command line, as an
HTTP API, or as a Kafka worker.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (defaults only when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newFitCmd(&opts),
		newDeriveCmd(&opts),
		newTransitionCmd(&opts),
		newServeCmd(&opts),
		newWorkerCmd(&opts),
	)
	return root
}
