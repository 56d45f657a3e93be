package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matsen/semlib/internal/chunk"
	"github.com/matsen/semlib/internal/chunkstore"
	"github.com/matsen/semlib/internal/config"
	"github.com/matsen/semlib/internal/embedding"
	"github.com/matsen/semlib/internal/federation"
	"github.com/matsen/semlib/internal/recordstore"
	"github.com/matsen/semlib/internal/search"
)

var (
	searchLimit       int
	searchChunkTypes  []string
	searchCollections []string
	searchItemTypes   []string
	searchYearMin     int
	searchYearMax     int
	searchRecency     float64
	searchExtraction  bool
	searchLocalOnly   bool
)

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", search.DefaultTopK, "Maximum results to return")
	searchCmd.Flags().StringSliceVar(&searchChunkTypes, "chunk-types", nil, "Restrict matches to chunk types (e.g. finding,claim)")
	searchCmd.Flags().StringSliceVar(&searchCollections, "collections", nil, "Restrict to papers in these collections")
	searchCmd.Flags().StringSliceVar(&searchItemTypes, "item-types", nil, "Restrict to these item types")
	searchCmd.Flags().IntVar(&searchYearMin, "year-min", 0, "Earliest publication year")
	searchCmd.Flags().IntVar(&searchYearMax, "year-max", 0, "Latest publication year")
	searchCmd.Flags().Float64Var(&searchRecency, "recency-boost", 0, "Blend weight for recency in [0,1]")
	searchCmd.Flags().BoolVar(&searchExtraction, "extraction", false, "Include full extraction records in results")
	searchCmd.Flags().BoolVar(&searchLocalOnly, "local-only", false, "Skip configured federated indexes")
	rootCmd.AddCommand(searchCmd)
}

// SearchResponse is the response for the search command.
type SearchResponse struct {
	Query   string              `json:"query"`
	Results []federation.Result `json:"results"`
	Total   int                 `json:"total"`
	Model   string              `json:"model"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search papers by semantic similarity",
	Long: `Search the index by embedding the query text and ranking papers by
their best-matching chunk. All filters are conjunctive.

When federated indexes are configured, their results are merged with the
local index's per the configured strategy and deduplicated.

Examples:
  sx search "selection on antibody repertoires"
  sx search "Bayesian model comparison" --chunk-types finding,claim
  sx search "tree inference" --year-min 2020 --recency-boost 0.3`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := mustLoadConfig()
	logger := newLogger()

	opts, err := searchOptions()
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	provider := mustBuildProvider(cfg)
	results := runFederatedSearch(ctx, cfg, provider, logger, args[0], opts)

	if humanOutput {
		if len(results) == 0 {
			fmt.Println("No papers found")
		} else {
			fmt.Printf("Found %d papers:\n\n", len(results))
			printFederatedResultsHuman(results)
		}
	} else {
		outputJSON(SearchResponse{
			Query:   args[0],
			Results: results,
			Total:   len(results),
			Model:   provider.ModelName(),
		})
	}
	return nil
}

// searchOptions assembles engine options from the shared search flags.
func searchOptions() (search.Options, error) {
	opts := search.Options{
		TopK:              searchLimit,
		Collections:       searchCollections,
		ItemTypes:         searchItemTypes,
		YearMin:           searchYearMin,
		YearMax:           searchYearMax,
		RecencyBoost:      searchRecency,
		IncludeExtraction: searchExtraction,
	}
	for _, s := range searchChunkTypes {
		t, err := chunk.ParseType(s)
		if err != nil {
			return opts, err
		}
		opts.ChunkTypes = append(opts.ChunkTypes, t)
	}
	return opts, nil
}

// runFederatedSearch queries the local index and any configured secondary
// indexes, then merges the rankings. A secondary index that cannot be
// opened or queried degrades to a warning; the local index is mandatory.
func runFederatedSearch(ctx context.Context, cfg *config.Config, provider embedding.Provider, logger *slog.Logger, query string, opts search.Options) []federation.Result {
	local := queryIndex(ctx, cfg.DataDir, provider, logger, query, opts, true)

	lists := []federation.IndexResults{{Index: "local", Weight: 1, Results: local}}
	if !searchLocalOnly {
		for _, idx := range cfg.Federation.Indexes {
			results := queryIndex(ctx, idx.DataDir, provider, logger, query, opts, false)
			if results == nil {
				logger.Warn("skipping federated index", "index", idx.Name)
				continue
			}
			lists = append(lists, federation.IndexResults{Index: idx.Name, Weight: idx.Weight, Results: results})
		}
	}

	if len(lists) == 1 {
		out := make([]federation.Result, len(local))
		for i, r := range local {
			out[i] = federation.Result{PaperResult: r, Index: "local"}
		}
		return out
	}

	merger, err := federation.NewMerger(federation.Strategy(cfg.Federation.Strategy), cfg.Federation.DedupThreshold)
	if err != nil {
		exitWithError(ExitConfigError, "federation config: %v", err)
	}
	return merger.Merge(lists, opts.TopK)
}

// queryIndex runs one search against the index at dataDir. For the
// mandatory local index errors exit; for secondaries they return nil.
func queryIndex(ctx context.Context, dataDir string, provider embedding.Provider, logger *slog.Logger, query string, opts search.Options, mandatory bool) []search.PaperResult {
	fail := func(format string, args ...interface{}) []search.PaperResult {
		if mandatory {
			exitWithError(ExitBackend, format, args...)
		}
		logger.Warn(fmt.Sprintf(format, args...))
		return nil
	}

	chunks, err := chunkstore.OpenSQLite(config.ChunkDBPath(dataDir), provider.Dimensions())
	if err != nil {
		return fail("opening chunk index %s: %v", dataDir, err)
	}
	defer chunks.Close()
	records, err := recordstore.OpenSQLite(config.RecordDBPath(dataDir))
	if err != nil {
		return fail("opening record store %s: %v", dataDir, err)
	}
	defer records.Close()

	engine := search.NewEngine(chunks, records, provider, logger)
	results, err := engine.Search(ctx, query, opts)
	if err != nil {
		var verr *search.ValidationError
		if errors.As(err, &verr) {
			exitWithError(ExitDataError, "%v", err)
		}
		return fail("searching %s: %v", dataDir, err)
	}
	if results == nil {
		results = []search.PaperResult{}
	}
	return results
}

func printFederatedResultsHuman(results []federation.Result) {
	for _, r := range results {
		fmt.Printf("%d. [%.2f] %s (%s)\n", r.Rank, r.Score, r.PaperID, r.Index)
		fmt.Printf("   %s\n", truncateString(r.Title, SearchTitleMaxLen))
		if r.Authors != "" {
			fmt.Printf("   %s (%d)\n", r.Authors, r.Year)
		} else {
			fmt.Printf("   (%d)\n", r.Year)
		}
		fmt.Printf("   matched %s: %s\n\n", r.ChunkType, truncateString(r.MatchedText, SearchTitleMaxLen))
	}
}
