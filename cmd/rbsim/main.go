package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rbsim",
		Short:         "Run RB admission scenarios in process",
		Long:          "rbsim loads an access point topology and station scenarios, runs them against the admission engine, and writes result and journal reports.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd(), newExportCmd(), newCQICmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
