package chunk

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/matsen/semlib/internal/record"
)

const (
	// DefaultMaxChunkChars is the per-chunk text budget handed to the
	// embedding model. ~8000 characters is roughly 2000 tokens, well inside
	// the context window of the embedding models we target.
	DefaultMaxChunkChars = 8000

	// methodologyTemplate renders the methodology sub-fields as one prose
	// chunk so the embedding captures the whole method, not fragments.
	// Changing this template changes chunk texts and therefore requires
	// re-embedding affected papers.
	methodologyHeader = "Methodology: "
)

// Chunker derives the chunk set for one paper. It is deterministic and pure:
// the same extraction always yields the same chunk IDs and texts.
type Chunker struct {
	maxChars int
	logger   *slog.Logger
}

// NewChunker creates a chunker with the given per-chunk character budget.
// A non-positive budget falls back to DefaultMaxChunkChars.
func NewChunker(maxChars int, logger *slog.Logger) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{maxChars: maxChars, logger: logger}
}

// Chunk maps one paper's extraction into its chunk set. Missing fields are
// skipped, never embedded as empty strings. Exactly one full_summary chunk is
// always produced when any field is present.
func (c *Chunker) Chunk(paper *record.PaperRecord, ext *record.ExtractionRecord) []Chunk {
	meta := metadataFor(paper)
	var chunks []Chunk

	add := func(t Type, ordinal int, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{
			ID:       ID(paper.PaperID, t, ordinal),
			PaperID:  paper.PaperID,
			Type:     t,
			Ordinal:  ordinal,
			Text:     c.truncate(paper.PaperID, t, text),
			Metadata: meta,
		})
	}

	// Single-field chunks for scalar fields.
	add(TypeAbstract, 0, ext.Abstract)
	add(TypeThesis, 0, ext.Thesis)
	add(TypeContribution, 0, ext.Contribution)

	// One synthesized prose chunk for the whole methodology.
	add(TypeMethodology, 0, formatMethodology(ext.Methodology))

	// One chunk per list item, so a query can match a single finding
	// without diluting it with siblings.
	for i, f := range ext.Findings {
		add(TypeFinding, i, f)
	}
	for i, cl := range ext.Claims {
		add(TypeClaim, i, cl)
	}
	for i, l := range ext.Limitations {
		add(TypeLimitation, i, l)
	}
	for i, fd := range ext.FutureDirections {
		add(TypeFutureWork, i, fd)
	}

	// Exactly one broad-match fallback concatenating all available fields.
	add(TypeFullSummary, 0, formatFullSummary(paper, ext))

	return chunks
}

// truncate enforces the per-chunk budget, logging the cut as a side-effect
// signal rather than dropping it silently.
func (c *Chunker) truncate(paperID string, t Type, text string) string {
	if len(text) <= c.maxChars {
		return text
	}
	c.logger.Warn("truncating chunk text",
		"paper_id", paperID,
		"chunk_type", string(t),
		"original_len", len(text),
		"max_len", c.maxChars,
	)
	return cutAtRune(text, c.maxChars)
}

// cutAtRune trims text to at most max bytes without splitting a rune.
func cutAtRune(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// formatMethodology renders the methodology sub-fields with a fixed template.
func formatMethodology(m record.Methodology) string {
	if m.IsEmpty() {
		return ""
	}
	var parts []string
	if m.Approach != "" {
		parts = append(parts, "Approach: "+m.Approach)
	}
	if m.Datasets != "" {
		parts = append(parts, "Datasets: "+m.Datasets)
	}
	if m.Evaluation != "" {
		parts = append(parts, "Evaluation: "+m.Evaluation)
	}
	if m.Tools != "" {
		parts = append(parts, "Tools: "+m.Tools)
	}
	return methodologyHeader + strings.Join(parts, " ")
}

// formatFullSummary concatenates all available extraction fields into one
// broad-match text.
func formatFullSummary(paper *record.PaperRecord, ext *record.ExtractionRecord) string {
	var parts []string
	if paper.Title != "" {
		parts = append(parts, paper.Title)
	}
	for _, s := range []string{ext.Abstract, ext.Thesis, ext.Contribution} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	if m := formatMethodology(ext.Methodology); m != "" {
		parts = append(parts, m)
	}
	for _, list := range [][]string{ext.Findings, ext.Claims, ext.Limitations, ext.FutureDirections} {
		for _, item := range list {
			if strings.TrimSpace(item) != "" {
				parts = append(parts, strings.TrimSpace(item))
			}
		}
	}
	if strings.TrimSpace(ext.Conclusions) != "" {
		parts = append(parts, strings.TrimSpace(ext.Conclusions))
	}
	return strings.Join(parts, "\n")
}
