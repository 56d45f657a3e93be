// Package record defines the core domain types for indexed papers.
package record

import "time"

// PaperRecord holds identity and bibliographic facts for one source item.
type PaperRecord struct {
	// Identity
	PaperID   string `json:"paper_id"`   // Internal stable identifier, generated once
	SourceKey string `json:"source_key"` // Identifier in the external library (e.g. Zotero item key)

	// Metadata
	Title    string   `json:"title"`
	Authors  []Author `json:"authors"`
	Year     int      `json:"year"`
	Venue    string   `json:"venue"`
	ItemType string   `json:"item_type"` // journalArticle, preprint, book, ...

	// External identifiers
	DOI  string `json:"doi,omitempty"`
	ISBN string `json:"isbn,omitempty"`

	// Membership in the source library
	Collections []string `json:"collections,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Change tracking
	ContentFingerprint string    `json:"content_fingerprint"`
	LastIndexedAt      time.Time `json:"last_indexed_at"`
}

// Author represents a paper author.
type Author struct {
	First string `json:"first"`
	Last  string `json:"last"`
	ORCID string `json:"orcid,omitempty"`
}

// DisplayName returns "First Last" or just "Last" when the first name is unknown.
func (a Author) DisplayName() string {
	if a.First == "" {
		return a.Last
	}
	return a.First + " " + a.Last
}

// AuthorsText returns a comma-joined display string for a list of authors.
func AuthorsText(authors []Author) string {
	s := ""
	for i, a := range authors {
		if i > 0 {
			s += ", "
		}
		s += a.DisplayName()
	}
	return s
}
