package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/matsen/semlib/internal/record"
)

// ZoteroExport reads a Zotero JSON export file as a source library.
// The export is re-read on every Items call so a fresh export is picked up
// without restarting.
type ZoteroExport struct {
	path string
}

// NewZoteroExport creates a library over a Zotero JSON export file.
func NewZoteroExport(path string) *ZoteroExport {
	return &ZoteroExport{path: path}
}

// zoteroItem is one entry in a Zotero API-format JSON export.
type zoteroItem struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
	Data    struct {
		ItemType     string `json:"itemType"`
		Title        string `json:"title"`
		AbstractNote string `json:"abstractNote"`
		Date         string `json:"date"`
		DOI          string `json:"DOI"`
		ISBN         string `json:"ISBN"`
		Publication  string `json:"publicationTitle"`
		Conference   string `json:"conferenceName"`
		DateModified string `json:"dateModified"`
		ParentItem   string `json:"parentItem"`
		ContentType  string `json:"contentType"`
		Path         string `json:"path"`
		Creators     []struct {
			CreatorType string `json:"creatorType"`
			FirstName   string `json:"firstName"`
			LastName    string `json:"lastName"`
			Name        string `json:"name"` // institutional authors
		} `json:"creators"`
		Collections []string `json:"collections"`
		Tags        []struct {
			Tag string `json:"tag"`
		} `json:"tags"`
	} `json:"data"`
}

var yearRe = regexp.MustCompile(`\b(\d{4})\b`)

// Items parses the export and returns the current library contents.
// Entries without a key or title are skipped with a per-entry error; one bad
// entry does not hide the rest of the library.
func (z *ZoteroExport) Items(ctx context.Context) ([]Item, error) {
	data, err := os.ReadFile(z.path)
	if err != nil {
		return nil, fmt.Errorf("reading zotero export: %w", err)
	}

	var entries []zoteroItem
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing zotero export: %w", err)
	}

	// PDF attachments reference their bibliographic item via parentItem.
	pdfByParent := make(map[string]string)
	for _, e := range entries {
		if e.Data.ItemType != "attachment" || e.Data.ParentItem == "" {
			continue
		}
		if e.Data.ContentType == "application/pdf" && e.Data.Path != "" {
			pdfByParent[e.Data.ParentItem] = e.Data.Path
		}
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		// Attachment and note entries ride along in exports; only
		// bibliographic items become papers.
		if e.Data.ItemType == "attachment" || e.Data.ItemType == "note" {
			continue
		}
		if e.Key == "" || e.Data.Title == "" {
			continue
		}
		item := z.toItem(e)
		item.PDFPath = pdfByParent[e.Key]
		items = append(items, item)
	}
	return items, nil
}

func (z *ZoteroExport) toItem(e zoteroItem) Item {
	var authors []record.Author
	for _, c := range e.Data.Creators {
		if c.CreatorType != "" && c.CreatorType != "author" {
			continue
		}
		if c.Name != "" {
			authors = append(authors, record.Author{Last: c.Name})
			continue
		}
		authors = append(authors, record.Author{First: c.FirstName, Last: c.LastName})
	}

	venue := e.Data.Publication
	if venue == "" {
		venue = e.Data.Conference
	}

	var tags []string
	for _, t := range e.Data.Tags {
		if t.Tag != "" {
			tags = append(tags, t.Tag)
		}
	}

	modifiedAt, _ := time.Parse(time.RFC3339, e.Data.DateModified)

	return Item{
		SourceKey:   e.Key,
		Title:       e.Data.Title,
		Authors:     authors,
		Year:        parseYear(e.Data.Date),
		Venue:       venue,
		ItemType:    e.Data.ItemType,
		DOI:         e.Data.DOI,
		ISBN:        e.Data.ISBN,
		Collections: e.Data.Collections,
		Tags:        tags,
		ModifiedAt:  modifiedAt,
		Fingerprint: fingerprint(e),
		Text:        e.Data.AbstractNote,
	}
}

// parseYear pulls a four-digit year out of Zotero's free-form date field.
func parseYear(date string) int {
	m := yearRe.FindString(date)
	if m == "" {
		return 0
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return y
}

// fingerprint hashes the fields that matter for re-indexing. Version alone
// is not enough: exports regenerated from a fresh Zotero profile reset it.
func fingerprint(e zoteroItem) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s", e.Key, e.Version, e.Data.DateModified, e.Data.Title, e.Data.AbstractNote)
	return hex.EncodeToString(h.Sum(nil))
}
