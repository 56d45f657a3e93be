package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matsen/semlib/internal/source"
	"github.com/matsen/semlib/internal/sync"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the library export and update the index on changes",
	Long: `Watch the configured library export file and run an incremental
update whenever the reference manager rewrites it. Runs until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := mustLoadConfig()
	logger := newLogger()

	library := mustOpenLibrary(cfg)
	provider := mustBuildProvider(cfg)
	chunks, records := mustOpenStores(cfg.DataDir, provider.Dimensions())
	defer chunks.Close()
	defer records.Close()
	updater := buildUpdater(cfg, chunks, records, provider, logger)

	watcher := source.NewWatcher(cfg.Source.Export, logger)
	changes, err := watcher.Watch(ctx)
	if err != nil {
		exitWithError(ExitError, "watching export: %v", err)
	}

	fmt.Printf("Watching %s\n", cfg.Source.Export)
	for range changes {
		items, err := library.Items(ctx)
		if err != nil {
			logger.Error("reading library", "error", err)
			continue
		}
		report, err := sync.Detect(ctx, items, records)
		if err != nil {
			logger.Error("detecting changes", "error", err)
			continue
		}
		if report.Total() == 0 {
			continue
		}
		fmt.Printf("Applying %d changes\n", report.Total())
		summary, err := updater.Apply(ctx, report, items)
		if err != nil {
			logger.Error("applying changes", "error", err)
			continue
		}
		printSummaryHuman(summary)
	}
	return nil
}
