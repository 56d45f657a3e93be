package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// IndexStatus is the response for the status command.
type IndexStatus struct {
	DataDir    string `json:"data_dir"`
	Papers     int    `json:"papers"`
	Chunks     int    `json:"chunks"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"`
	Watermark  string `json:"watermark,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index size and last update time",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := mustLoadConfig()

	provider := mustBuildProvider(cfg)
	chunks, records := mustOpenStores(cfg.DataDir, provider.Dimensions())
	defer chunks.Close()
	defer records.Close()

	papers, err := records.ListPapers(ctx)
	if err != nil {
		exitWithError(ExitBackend, "listing papers: %v", err)
	}
	chunkCount, err := chunks.Count(ctx)
	if err != nil {
		exitWithError(ExitBackend, "counting chunks: %v", err)
	}
	status := IndexStatus{
		DataDir:    cfg.DataDir,
		Papers:     len(papers),
		Chunks:     chunkCount,
		Dimensions: chunks.Dimensions(),
		Model:      provider.ModelName(),
	}
	watermark, ok, err := records.Watermark(ctx)
	if err != nil {
		exitWithError(ExitBackend, "reading watermark: %v", err)
	}
	if ok {
		status.Watermark = watermark.Format(time.RFC3339)
	}

	if humanOutput {
		fmt.Printf("Index:      %s\n", status.DataDir)
		fmt.Printf("Papers:     %d\n", status.Papers)
		fmt.Printf("Chunks:     %d\n", status.Chunks)
		fmt.Printf("Embedding:  %s (%d dimensions)\n", status.Model, status.Dimensions)
		if status.Watermark != "" {
			fmt.Printf("Last update: %s\n", status.Watermark)
		} else {
			fmt.Println("Last update: never")
		}
	} else {
		outputJSON(status)
	}
	return nil
}
