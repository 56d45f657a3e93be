package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/semlib/internal/sync"
)

func init() {
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply pending library changes to the index",
	Long: `Detect changes in the external library and apply them: deletions
first, then modifications, then additions. Each changed paper runs the
full pipeline (extraction, chunking, embedding, storage).

Per-item failures are reported in the summary and do not abort the run.
The watermark advances after a completed run; an aborted run (store
unavailable) leaves it untouched so the changes are detected again.`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := mustLoadConfig()
	logger := newLogger()

	library := mustOpenLibrary(cfg)
	items, err := library.Items(ctx)
	if err != nil {
		exitWithError(ExitError, "reading library: %v", err)
	}

	provider := mustBuildProvider(cfg)
	chunks, records := mustOpenStores(cfg.DataDir, provider.Dimensions())
	defer chunks.Close()
	defer records.Close()

	report, err := sync.Detect(ctx, items, records)
	if err != nil {
		exitWithError(ExitBackend, "detecting changes: %v", err)
	}

	updater := buildUpdater(cfg, chunks, records, provider, logger)
	summary, err := updater.Apply(ctx, report, items)
	if err != nil {
		exitWithError(ExitBackend, "applying changes: %v", err)
	}

	if humanOutput {
		printSummaryHuman(summary)
	} else {
		outputJSON(summary)
	}
	return nil
}

func printSummaryHuman(summary *sync.Summary) {
	printAction := func(name string, r sync.ActionResult) {
		fmt.Printf("%-9s %d attempted, %d succeeded, %d failed\n",
			name+":", r.Attempted, r.Succeeded, r.Failed)
		for _, f := range r.Failures {
			fmt.Printf("          %s: %s\n", f.SourceKey, f.Error)
		}
	}
	printAction("Added", summary.Added)
	printAction("Updated", summary.Updated)
	printAction("Deleted", summary.Deleted)
	fmt.Printf("Unchanged: %d\n", summary.Unchanged)
}
