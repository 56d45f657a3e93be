// Package recordstore persists paper records and their derived extraction
// records, plus the incremental-update watermark.
package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/matsen/semlib/internal/record"
)

// Errors returned by record store operations.
var (
	// ErrNotFound indicates the requested paper is not in the store. A
	// lookup miss is always this typed error, never an empty success.
	ErrNotFound = errors.New("paper not found")

	// ErrUnavailable indicates the underlying store could not be reached.
	ErrUnavailable = errors.New("record store unavailable")

	// ErrSourceKeyConflict indicates a second paper claimed an already
	// mapped source key. One source item maps to at most one paper.
	ErrSourceKeyConflict = errors.New("source key already mapped to another paper")
)

// Store is the paper/extraction record capability consumed by the search and
// update pipelines.
type Store interface {
	// PutPaper inserts or updates a paper record, validating it first.
	PutPaper(ctx context.Context, p *record.PaperRecord) error

	// GetPaper returns a paper by its stable ID, or ErrNotFound.
	GetPaper(ctx context.Context, paperID string) (*record.PaperRecord, error)

	// GetPaperBySourceKey returns a paper by its external library key.
	GetPaperBySourceKey(ctx context.Context, sourceKey string) (*record.PaperRecord, error)

	// DeletePaper removes a paper and its extraction record.
	DeletePaper(ctx context.Context, paperID string) error

	// ListPapers returns all paper records ordered by paper ID.
	ListPapers(ctx context.Context) ([]record.PaperRecord, error)

	// PutExtraction stores the extraction payload for a paper.
	PutExtraction(ctx context.Context, e *record.ExtractionRecord) error

	// GetExtraction returns a paper's extraction payload, or ErrNotFound.
	GetExtraction(ctx context.Context, paperID string) (*record.ExtractionRecord, error)

	// Watermark returns the timestamp of the last completed update run.
	// ok is false before the first completed run.
	Watermark(ctx context.Context) (t time.Time, ok bool, err error)

	// SetWatermark records the completion time of an update run.
	SetWatermark(ctx context.Context, t time.Time) error

	Close() error
}
