package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewPaperID generates a stable, opaque paper identifier. Called exactly once
// per source item; the ID never changes afterwards.
func NewPaperID() string {
	return uuid.NewString()
}

// ValidatePaper checks the invariants enforced at the store boundary.
// Validation lives here rather than scattered through callers so a malformed
// record is rejected before anything is persisted.
func ValidatePaper(p *PaperRecord) error {
	if p.PaperID == "" {
		return fmt.Errorf("paper record: missing paper_id")
	}
	if p.SourceKey == "" {
		return fmt.Errorf("paper record %s: missing source_key", p.PaperID)
	}
	if p.Title == "" {
		return fmt.Errorf("paper record %s: missing title", p.PaperID)
	}
	if p.Year < 0 || p.Year > time.Now().Year()+1 {
		return fmt.Errorf("paper record %s: implausible year %d", p.PaperID, p.Year)
	}
	return nil
}

// ValidateExtraction checks an extraction payload before it is persisted.
func ValidateExtraction(e *ExtractionRecord) error {
	if e.PaperID == "" {
		return fmt.Errorf("extraction record: missing paper_id")
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("extraction record %s: confidence %v outside [0,1]", e.PaperID, e.Confidence)
	}
	return nil
}
