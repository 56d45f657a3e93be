// Package search implements paper-level semantic search over the chunk index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/matsen/semlib/internal/chunk"
	"github.com/matsen/semlib/internal/chunkstore"
	"github.com/matsen/semlib/internal/embedding"
	"github.com/matsen/semlib/internal/record"
	"github.com/matsen/semlib/internal/recordstore"
)

const (
	// DefaultTopK is the result count when the caller does not specify one.
	DefaultTopK = 10

	// OverfetchFactor is how many chunk hits are requested per requested
	// paper. Several chunks of one paper can land in the top hits, so the
	// chunk-level query must over-fetch to keep top_k papers after grouping.
	OverfetchFactor = 4
)

// Options controls one search call. All filter fields are conjunctive.
type Options struct {
	TopK        int
	ChunkTypes  []chunk.Type
	Collections []string
	ItemTypes   []string
	YearMin     int
	YearMax     int

	// RecencyBoost in [0,1] linearly blends similarity with a normalized
	// recency signal. Zero means pure similarity ranking.
	RecencyBoost float64

	// IncludeExtraction attaches the full extraction record to each result.
	IncludeExtraction bool
}

// PaperResult is one ranked paper in a search response.
type PaperResult struct {
	Rank        int                      `json:"rank"`
	Score       float32                  `json:"score"`
	PaperID     string                   `json:"paper_id"`
	Title       string                   `json:"title"`
	Authors     string                   `json:"authors"`
	Year        int                      `json:"year"`
	DOI         string                   `json:"doi,omitempty"`
	ChunkType   chunk.Type               `json:"chunk_type"`
	MatchedText string                   `json:"matched_text"`
	Extraction  *record.ExtractionRecord `json:"extraction,omitempty"`
}

// Engine answers similarity queries by embedding once, querying the chunk
// store, grouping hits by paper, and joining against the record store.
type Engine struct {
	chunks   chunkstore.Store
	records  recordstore.Store
	provider embedding.Provider
	logger   *slog.Logger
}

// NewEngine creates a search engine over the given stores and embedder.
func NewEngine(chunks chunkstore.Store, records recordstore.Store, provider embedding.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{chunks: chunks, records: records, provider: provider, logger: logger}
}

// Search embeds the query text and returns the top papers matching the filters.
// An empty result is a valid zero-length ranked list, not an error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]PaperResult, error) {
	if query == "" {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}

	emb, err := e.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	return e.run(ctx, emb.Vector, opts, "")
}

// Similar returns the papers most similar to the given paper, seeded by the
// paper's own stored full_summary vector. The source paper is excluded.
func (e *Engine) Similar(ctx context.Context, paperID string, opts Options) ([]PaperResult, error) {
	if paperID == "" {
		return nil, &ValidationError{Field: "paper_id", Reason: "must not be empty"}
	}
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}

	// Surface a typed not-found before touching the chunk index, so an
	// unknown paper is distinguishable from an unindexed one.
	if _, err := e.records.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}

	vector, err := e.chunks.PaperVector(ctx, paperID, chunk.TypeFullSummary)
	if err != nil {
		return nil, fmt.Errorf("loading seed vector for %s: %w", paperID, err)
	}

	return e.run(ctx, vector, opts, paperID)
}

// run executes the shared ranking pipeline for a query vector.
func (e *Engine) run(ctx context.Context, vector []float32, opts Options, excludePaperID string) ([]PaperResult, error) {
	filter := chunkstore.Filter{
		ChunkTypes:     opts.ChunkTypes,
		Collections:    opts.Collections,
		ItemTypes:      opts.ItemTypes,
		YearMin:        opts.YearMin,
		YearMax:        opts.YearMax,
		ExcludePaperID: excludePaperID,
	}

	hits, err := e.chunks.Query(ctx, vector, opts.TopK*OverfetchFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("querying chunk store: %w", err)
	}

	papers := groupByPaper(hits)
	if opts.RecencyBoost > 0 {
		applyRecencyBoost(papers, opts.RecencyBoost)
	}

	sort.Slice(papers, func(i, j int) bool {
		if papers[i].score != papers[j].score {
			return papers[i].score > papers[j].score
		}
		return papers[i].paperID < papers[j].paperID
	})
	if len(papers) > opts.TopK {
		papers = papers[:opts.TopK]
	}

	return e.join(ctx, papers, opts.IncludeExtraction)
}

// paperGroup is one paper's chunk hits collapsed to its best match.
type paperGroup struct {
	paperID string
	score   float32
	best    chunkstore.Hit
	year    int
}

// groupByPaper collapses chunk hits to papers. The paper score is the max
// over its chunk scores: a single excellent match should surface the paper
// even when its other chunks are mediocre.
func groupByPaper(hits []chunkstore.Hit) []paperGroup {
	index := make(map[string]int)
	var papers []paperGroup

	for _, h := range hits {
		i, seen := index[h.Chunk.PaperID]
		if !seen {
			index[h.Chunk.PaperID] = len(papers)
			papers = append(papers, paperGroup{
				paperID: h.Chunk.PaperID,
				score:   h.Score,
				best:    h,
				year:    h.Chunk.Metadata.Year,
			})
			continue
		}
		if h.Score > papers[i].score {
			papers[i].score = h.Score
			papers[i].best = h
		}
	}
	return papers
}

// applyRecencyBoost blends each paper's similarity score with a recency
// signal normalized over the candidate set. When all candidates share a year
// the signal carries no information and ranking is left unchanged.
func applyRecencyBoost(papers []paperGroup, boost float64) {
	minYear, maxYear := 0, 0
	for _, p := range papers {
		if p.year == 0 {
			continue
		}
		if minYear == 0 || p.year < minYear {
			minYear = p.year
		}
		if p.year > maxYear {
			maxYear = p.year
		}
	}
	if minYear == 0 || maxYear == minYear {
		return
	}

	for i := range papers {
		var recency float64
		if papers[i].year > 0 {
			recency = float64(papers[i].year-minYear) / float64(maxYear-minYear)
		}
		papers[i].score = float32((1-boost)*float64(papers[i].score) + boost*recency)
	}
}

// join assembles display results from the record store.
func (e *Engine) join(ctx context.Context, papers []paperGroup, includeExtraction bool) ([]PaperResult, error) {
	results := make([]PaperResult, 0, len(papers))
	for _, pg := range papers {
		paper, err := e.records.GetPaper(ctx, pg.paperID)
		if errors.Is(err, recordstore.ErrNotFound) {
			// A read racing a concurrent delete can observe a chunk whose
			// paper record is already gone. Skip rather than fail the search.
			e.logger.Warn("chunk references missing paper", "paper_id", pg.paperID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("joining paper %s: %w", pg.paperID, err)
		}

		r := PaperResult{
			Rank:        len(results) + 1,
			Score:       pg.score,
			PaperID:     pg.paperID,
			Title:       paper.Title,
			Authors:     record.AuthorsText(paper.Authors),
			Year:        paper.Year,
			DOI:         paper.DOI,
			ChunkType:   pg.best.Chunk.Type,
			MatchedText: pg.best.Chunk.Text,
		}
		if includeExtraction {
			ext, err := e.records.GetExtraction(ctx, pg.paperID)
			if err != nil && !errors.Is(err, recordstore.ErrNotFound) {
				return nil, fmt.Errorf("joining extraction %s: %w", pg.paperID, err)
			}
			r.Extraction = ext
		}
		results = append(results, r)
	}
	return results, nil
}

// validateOptions rejects malformed parameters before any store access.
func validateOptions(opts *Options) error {
	if opts.TopK < 0 {
		return &ValidationError{Field: "top_k", Reason: "must not be negative"}
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.RecencyBoost < 0 || opts.RecencyBoost > 1 {
		return &ValidationError{
			Field:  "recency_boost",
			Reason: fmt.Sprintf("%v outside [0,1]", opts.RecencyBoost),
		}
	}
	for _, t := range opts.ChunkTypes {
		if !t.Valid() {
			return &ValidationError{Field: "chunk_types", Reason: fmt.Sprintf("unknown chunk type %q", t)}
		}
	}
	if opts.YearMin > 0 && opts.YearMax > 0 && opts.YearMin > opts.YearMax {
		return &ValidationError{Field: "year_min", Reason: "exceeds year_max"}
	}
	return nil
}
