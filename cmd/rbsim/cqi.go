package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rb-admission/core"
)

func newCQICmd() *cobra.Command {
	var (
		signal    float64
		bandwidth float64
	)
	cmd := &cobra.Command{
		Use:   "cqi",
		Short: "Show the quality class and RB demand for a signal level",
		RunE: func(cmd *cobra.Command, args []string) error {
			class := core.QualityClassFor(signal)
			units, err := core.RequiredUnits(bandwidth, class)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signal %.1f dBm -> CQI %d (%.1f Mbps/RB): %.1f Mbps needs %d RBs\n",
				signal, class, core.PerUnitCapacity(class), bandwidth, units)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&signal, "signal", "s", -70, "Signal strength in dBm")
	cmd.Flags().Float64VarP(&bandwidth, "bandwidth", "b", 10, "Requested bandwidth in Mbps")
	return cmd
}
