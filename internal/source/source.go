// Package source reads the external, authoritative paper library that the
// index mirrors but never mutates.
package source

import (
	"context"
	"time"

	"github.com/matsen/semlib/internal/record"
)

// Item is one entry in the external library, as seen at read time.
type Item struct {
	// SourceKey is the item's identifier in the external library.
	SourceKey string

	Title       string
	Authors     []record.Author
	Year        int
	Venue       string
	ItemType    string
	DOI         string
	ISBN        string
	Collections []string
	Tags        []string

	// ModifiedAt is the external modification timestamp, compared against
	// the index watermark during change detection.
	ModifiedAt time.Time

	// Fingerprint is a derived value that changes whenever the source
	// item's metadata or attached document changes.
	Fingerprint string

	// Text is the item's extractable text (abstract or full text).
	Text string

	// PDFPath is the item's attached PDF on disk, when the library has
	// one. Used as the extraction text source for items without an
	// abstract.
	PDFPath string
}

// Library is the read-only capability over the external source library.
type Library interface {
	// Items returns every item currently in the library.
	Items(ctx context.Context) ([]Item, error)
}
