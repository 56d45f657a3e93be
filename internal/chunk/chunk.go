package chunk

import (
	"fmt"

	"github.com/matsen/semlib/internal/record"
)

// Chunk is one embeddable unit derived from a paper's extraction. The vector
// is attached later by the embedding step; the chunker never produces one.
type Chunk struct {
	ID      string // deterministic: <paper_id>:<type>:<ordinal>
	PaperID string
	Type    Type
	Ordinal int
	Text    string

	// Metadata is the flattened projection used for filterable search
	// without a join against the record store.
	Metadata Metadata
}

// Metadata is the filterable projection carried alongside every chunk.
type Metadata struct {
	Title       string
	AuthorsText string
	Year        int
	Collections []string
	ItemType    string
}

// ID computes the deterministic chunk identifier. Regenerating chunks for the
// same extraction always yields the same IDs, which makes re-embedding
// idempotent and paper-scoped deletion exact.
func ID(paperID string, t Type, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d", paperID, t, ordinal)
}

// metadataFor builds the flattened projection from a paper record.
func metadataFor(p *record.PaperRecord) Metadata {
	return Metadata{
		Title:       p.Title,
		AuthorsText: record.AuthorsText(p.Authors),
		Year:        p.Year,
		Collections: p.Collections,
		ItemType:    p.ItemType,
	}
}
