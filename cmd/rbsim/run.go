package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rb-admission/internal/config"
	"github.com/signalsfoundry/rb-admission/internal/engine"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/internal/report"
	"github.com/signalsfoundry/rb-admission/internal/scenario"
	"github.com/signalsfoundry/rb-admission/model"
)

type runOptions struct {
	configPath  string
	outDir      string
	archivePath string
	mode        string
	quiet       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured scenarios and write reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScenarios(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML topology and scenario file (required)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "rb_test_results", "Directory for result and journal reports")
	cmd.Flags().StringVar(&opts.archivePath, "archive", "", "Also append journals and results to this SQLite file")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "concurrent or sequential (overrides config)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print the summary")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runScenarios(ctx context.Context, cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.mode != "" {
		cfg.Run.Mode = opts.mode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if len(cfg.Scenarios) == 0 {
		return fmt.Errorf("config %s declares no scenarios", opts.configPath)
	}

	log := logging.NewFromEnv()
	eng, err := engine.Build(cfg, log)
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		eng.Sweeper.Run(sweepCtx)
	}()

	driver := scenario.New(eng.Controller, eng.Registry,
		scenario.WithLogger(log),
		scenario.WithStagger(cfg.Run.Stagger),
		scenario.WithGap(cfg.Run.Gap),
	)
	started := time.Now()
	results, err := driver.Run(ctx, scenario.Mode(cfg.Run.Mode), cfg.Scenarios)
	stopSweep()
	<-sweepDone
	if err != nil {
		return err
	}

	journals := eng.Journals()
	files, err := report.SaveRun(opts.outDir, started, results, journals)
	if err != nil {
		return err
	}

	if opts.archivePath != "" {
		if err := archiveRun(ctx, opts.archivePath, results, journals); err != nil {
			return err
		}
	}

	if !opts.quiet {
		util := make([]report.Utilization, 0, len(journals))
		for _, p := range eng.Registry.ListPools() {
			util = append(util, report.JournalUtilization(p.ID(), p.TotalUnits(), journals[p.ID()]))
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, renderSummary(results, report.Summarize(results), util))
		fmt.Fprintln(out, styleDim.Render("results: "+files.ResultsJSON))
		fmt.Fprintln(out, styleDim.Render("journals: "+files.JournalsJSON))
	}
	if ok, ap := eng.Conserved(); !ok {
		return fmt.Errorf("capacity not conserved on %s", ap)
	}
	return nil
}

func archiveRun(ctx context.Context, path string, results []model.RunResult, journals map[string][]model.JournalEntry) error {
	a, err := report.OpenArchive(path)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, entries := range journals {
		if _, err := a.AppendJournal(ctx, entries); err != nil {
			return err
		}
	}
	return a.AppendResults(ctx, uuid.NewString(), results)
}
