// Package extractor defines the structured-extraction capability consumed by
// the update pipeline. The extractor is a black box: the index stores what it
// returns and never invents or repairs extraction content.
package extractor

import (
	"context"
	"errors"

	"github.com/matsen/semlib/internal/record"
)

// ErrExtraction indicates the extractor failed for one paper. During a batch
// update the paper is recorded as failed and skipped, never invented.
var ErrExtraction = errors.New("extraction failed")

// Extractor produces a structured extraction record from a paper's text.
type Extractor interface {
	// Extract derives the structured record for one paper. The returned
	// record must carry the given paper ID.
	Extract(ctx context.Context, paperID string, text string, paper *record.PaperRecord) (*record.ExtractionRecord, error)
}
