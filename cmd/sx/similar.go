package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/semlib/internal/recordstore"
	"github.com/matsen/semlib/internal/search"
)

var similarLimit int

func init() {
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "l", search.DefaultTopK, "Maximum number of results")
	rootCmd.AddCommand(similarCmd)
}

// SimilarSource is the source paper info for similar papers response.
type SimilarSource struct {
	PaperID string `json:"paper_id"`
	Title   string `json:"title"`
}

// SimilarResponse is the response for the similar papers command.
type SimilarResponse struct {
	Source  SimilarSource        `json:"source"`
	Similar []search.PaperResult `json:"similar"`
	Total   int                  `json:"total"`
	Model   string               `json:"model"`
}

var similarCmd = &cobra.Command{
	Use:   "similar <paper-id>",
	Short: "Find papers similar to a specific paper",
	Long: `Find papers semantically similar to a given paper, seeded by the
paper's own stored summary embedding rather than a fresh query string.
The source paper is excluded from results.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	paperID := args[0]
	cfg := mustLoadConfig()
	logger := newLogger()

	provider := mustBuildProvider(cfg)
	chunks, records := mustOpenStores(cfg.DataDir, provider.Dimensions())
	defer chunks.Close()
	defer records.Close()

	engine := search.NewEngine(chunks, records, provider, logger)
	results, err := engine.Similar(ctx, paperID, search.Options{TopK: similarLimit})
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			exitWithError(ExitNotFound, "paper %q not found", paperID)
		}
		if search.IsValidation(err) {
			exitWithError(ExitDataError, "%v", err)
		}
		exitWithError(ExitBackend, "finding similar papers: %v", err)
	}

	sourcePaper, err := records.GetPaper(ctx, paperID)
	if err != nil {
		exitWithError(ExitError, "looking up paper details: %v", err)
	}

	if humanOutput {
		fmt.Printf("Papers similar to: %s\n", paperID)
		fmt.Printf("%q\n\n", truncateString(sourcePaper.Title, DetailTitleMaxLen))
		printResultsHuman(results)
	} else {
		outputJSON(SimilarResponse{
			Source:  SimilarSource{PaperID: sourcePaper.PaperID, Title: sourcePaper.Title},
			Similar: results,
			Total:   len(results),
			Model:   provider.ModelName(),
		})
	}
	return nil
}
