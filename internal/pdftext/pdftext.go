// Package pdftext pulls plain text out of attached paper PDFs for the
// extraction pipeline.
package pdftext

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxPages bounds how much of a PDF is read. Extraction works from
// the front matter and body; appendices past this point add little.
const DefaultMaxPages = 30

// Extract returns the concatenated plain text of the first maxPages pages.
// Pages whose text cannot be decoded are skipped; a PDF that yields no text
// at all (a pure image scan) returns an error so the caller can fall back to
// the abstract.
func Extract(filePath string, maxPages int) (string, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", filePath, err)
	}
	defer f.Close()

	pages := r.NumPage()
	if pages > maxPages {
		pages = maxPages
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("no extractable text in %s", filePath)
	}
	return out, nil
}
