// Package chunkstore persists embedded chunks and answers similarity queries
// with metadata predicates.
package chunkstore

import (
	"context"

	"github.com/matsen/semlib/internal/chunk"
)

// StoredChunk is a chunk together with its embedding vector, as held by a store.
type StoredChunk struct {
	Chunk  chunk.Chunk
	Vector []float32
}

// Hit is one chunk returned by a similarity query.
type Hit struct {
	Chunk chunk.Chunk
	Score float32
}

// Filter restricts a similarity query. All set fields are conjunctive: a
// chunk must satisfy every one of them. Zero values mean "no restriction".
type Filter struct {
	ChunkTypes  []chunk.Type
	Collections []string
	ItemTypes   []string
	YearMin     int
	YearMax     int

	// ExcludePaperID drops all chunks of one paper from the result.
	// Used by similar-papers lookups to exclude the source paper.
	ExcludePaperID string
}

// Store is the chunk-level vector index capability consumed by the search and
// update pipelines. Vector dimensionality is fixed per store instance and
// validated on every upsert.
type Store interface {
	// Upsert inserts or replaces chunks by chunk ID.
	Upsert(ctx context.Context, chunks []StoredChunk) error

	// DeleteByPaper removes every chunk belonging to the given paper.
	// Deleting a paper with no chunks is not an error.
	DeleteByPaper(ctx context.Context, paperID string) error

	// Query returns the topN chunks most similar to the query vector among
	// those matching the filter, sorted by descending score.
	Query(ctx context.Context, vector []float32, topN int, filter Filter) ([]Hit, error)

	// PaperVector returns the stored vector for one chunk of a paper,
	// identified by chunk type and ordinal 0. Used to seed similar-papers
	// lookups from a paper's own full_summary embedding.
	PaperVector(ctx context.Context, paperID string, t chunk.Type) ([]float32, error)

	// Dimensions returns the store's configured vector dimensionality.
	Dimensions() int

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}
