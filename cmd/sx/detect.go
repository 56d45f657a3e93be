package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/semlib/internal/sync"
)

func init() {
	rootCmd.AddCommand(detectCmd)
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Report pending library changes without applying them",
	Long: `Diff the external library export against the index and report what
an update would do: new items, modified items, and deleted papers.

Read-only; the index and its watermark are not touched.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := mustLoadConfig()

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

	if humanOutput {
		fmt.Printf("New:       %d\n", len(report.New))
		fmt.Printf("Modified:  %d\n", len(report.Modified))
		fmt.Printf("Deleted:   %d\n", len(report.Deleted))
		fmt.Printf("Unchanged: %d\n", report.UnchangedCount)
	} else {
		outputJSON(report)
	}
	return nil
}
