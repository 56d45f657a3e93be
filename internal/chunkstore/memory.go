package chunkstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/matsen/semlib/internal/chunk"
)

// MemoryStore is an in-memory chunk store with the same semantics as the
// SQLite store. Used in tests and for throwaway indexes.
type MemoryStore struct {
	dimensions int
	chunks     map[string]StoredChunk
}

// NewMemoryStore creates an empty in-memory chunk store.
func NewMemoryStore(dimensions int) *MemoryStore {
	return &MemoryStore{
		dimensions: dimensions,
		chunks:     make(map[string]StoredChunk),
	}
}

// Dimensions returns the store's configured vector dimensionality.
func (m *MemoryStore) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Upsert inserts or replaces chunks by chunk ID.
func (m *MemoryStore) Upsert(ctx context.Context, chunks []StoredChunk) error {
	for _, sc := range chunks {
		if len(sc.Vector) != m.dimensions {
			return fmt.Errorf("%w: chunk %s has %d, store has %d",
				ErrDimensionMismatch, sc.Chunk.ID, len(sc.Vector), m.dimensions)
		}
	}
	for _, sc := range chunks {
		m.chunks[sc.Chunk.ID] = sc
	}
	return nil
}

// DeleteByPaper removes every chunk belonging to the given paper.
func (m *MemoryStore) DeleteByPaper(ctx context.Context, paperID string) error {
	for id, sc := range m.chunks {
		if sc.Chunk.PaperID == paperID {
			delete(m.chunks, id)
		}
	}
	return nil
}

// Query returns the topN most similar chunks among those matching the filter.
func (m *MemoryStore) Query(ctx context.Context, vector []float32, topN int, filter Filter) ([]Hit, error) {
	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("%w: query vector has %d, store has %d",
			ErrDimensionMismatch, len(vector), m.dimensions)
	}

	var hits []Hit
	for _, sc := range m.chunks {
		if !matches(sc, filter) {
			continue
		}
		hits = append(hits, Hit{Chunk: sc.Chunk, Score: CosineSimilarity(vector, sc.Vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

// PaperVector returns the stored vector for one chunk of a paper.
func (m *MemoryStore) PaperVector(ctx context.Context, paperID string, t chunk.Type) ([]float32, error) {
	for _, sc := range m.chunks {
		if sc.Chunk.PaperID == paperID && sc.Chunk.Type == t && sc.Chunk.Ordinal == 0 {
			return sc.Vector, nil
		}
	}
	return nil, fmt.Errorf("%w: paper %s has no %s chunk", ErrNotFound, paperID, t)
}

// Count returns the number of stored chunks.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	return len(m.chunks), nil
}

func matches(sc StoredChunk, f Filter) bool {
	c := sc.Chunk
	if len(f.ChunkTypes) > 0 && !slices.Contains(f.ChunkTypes, c.Type) {
		return false
	}
	if len(f.ItemTypes) > 0 && !slices.Contains(f.ItemTypes, c.Metadata.ItemType) {
		return false
	}
	if f.YearMin > 0 && c.Metadata.Year < f.YearMin {
		return false
	}
	if f.YearMax > 0 && c.Metadata.Year > f.YearMax {
		return false
	}
	if len(f.Collections) > 0 {
		found := false
		for _, want := range f.Collections {
			if slices.Contains(c.Metadata.Collections, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ExcludePaperID != "" && c.PaperID == f.ExcludePaperID {
		return false
	}
	return true
}
