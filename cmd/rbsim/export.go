package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rb-admission/internal/report"
	"github.com/signalsfoundry/rb-admission/model"
)

func newExportCmd() *cobra.Command {
	var (
		archivePath string
		format      string
	)
	cmd := &cobra.Command{
		Use:   "export ACCESS_POINT...",
		Short: "Print archived journals of access points",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := report.OpenArchive(archivePath)
			if err != nil {
				return err
			}
			defer a.Close()

			journals := make(map[string][]model.JournalEntry, len(args))
			for _, ap := range args {
				entries, err := a.Journal(cmd.Context(), ap)
				if err != nil {
					return err
				}
				journals[ap] = entries
			}

			switch format {
			case "csv":
				return report.WriteJournalsCSV(cmd.OutOrStdout(), journals)
			case "json":
				return report.WriteJournalsJSON(cmd.OutOrStdout(), journals)
			default:
				return fmt.Errorf("unknown format %q (want csv or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "rb_archive.db", "SQLite archive written by rbsim run --archive")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format: csv or json")
	return cmd
}
