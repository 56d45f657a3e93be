package chunk

import (
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/matsen/semlib/internal/record"
)

func testPaper() *record.PaperRecord {
	return &record.PaperRecord{
		PaperID:   "paper-1",
		SourceKey: "ZOTERO1",
		Title:     "Phylogenetic Inference at Scale",
		Authors: []record.Author{
			{First: "Ada", Last: "Lovelace"},
			{First: "Charles", Last: "Babbage"},
		},
		Year:        2023,
		Venue:       "Systematic Biology",
		ItemType:    "journalArticle",
		Collections: []string{"phylo"},
	}
}

func testExtraction() *record.ExtractionRecord {
	return &record.ExtractionRecord{
		PaperID:      "paper-1",
		Abstract:     "We study large-scale phylogenetic inference.",
		Thesis:       "Variational methods scale to millions of taxa.",
		Contribution: "A new variational family over tree topologies.",
		Methodology: record.Methodology{
			Approach: "Stochastic variational inference",
			Datasets: "Simulated and empirical alignments",
		},
		Findings:    []string{"Runtime is linear in taxa.", "Accuracy matches MCMC."},
		Claims:      []string{"The bound is tight for star trees."},
		Limitations: []string{"Assumes a fixed alignment."},
	}
}

func TestChunkDeterminism(t *testing.T) {
	c := NewChunker(0, slog.New(slog.DiscardHandler))
	paper, ext := testPaper(), testExtraction()

	first := c.Chunk(paper, ext)
	second := c.Chunk(paper, ext)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d: ID %q != %q", i, first[i].ID, second[i].ID)
		}
		if first[i].Text != second[i].Text {
			t.Errorf("chunk %d: texts differ", i)
		}
	}
}

func TestChunkContents(t *testing.T) {
	c := NewChunker(0, slog.New(slog.DiscardHandler))
	chunks := c.Chunk(testPaper(), testExtraction())

	byType := make(map[Type][]Chunk)
	for _, ch := range chunks {
		byType[ch.Type] = append(byType[ch.Type], ch)
	}

	if got := len(byType[TypeFinding]); got != 2 {
		t.Errorf("expected 2 finding chunks, got %d", got)
	}
	if got := len(byType[TypeFullSummary]); got != 1 {
		t.Errorf("expected exactly 1 full_summary chunk, got %d", got)
	}
	if got := len(byType[TypeFutureWork]); got != 0 {
		t.Errorf("expected no future_work chunks for empty field, got %d", got)
	}

	// Methodology is one synthesized prose chunk, not per-sub-field chunks.
	meth := byType[TypeMethodology]
	if len(meth) != 1 {
		t.Fatalf("expected 1 methodology chunk, got %d", len(meth))
	}
	if !strings.Contains(meth[0].Text, "Approach: Stochastic variational inference") {
		t.Errorf("methodology chunk missing approach: %q", meth[0].Text)
	}
	if !strings.Contains(meth[0].Text, "Datasets:") {
		t.Errorf("methodology chunk missing datasets: %q", meth[0].Text)
	}

	// Deterministic IDs carry paper, type, and ordinal.
	if id := byType[TypeFinding][1].ID; id != "paper-1:finding:1" {
		t.Errorf("unexpected finding chunk ID %q", id)
	}

	// Every chunk carries the flattened metadata projection.
	for _, ch := range chunks {
		if ch.Metadata.Title == "" || ch.Metadata.AuthorsText == "" || ch.Metadata.Year == 0 {
			t.Errorf("chunk %s missing metadata projection: %+v", ch.ID, ch.Metadata)
		}
	}
}

func TestChunkSkipsEmptyFields(t *testing.T) {
	c := NewChunker(0, slog.New(slog.DiscardHandler))
	ext := &record.ExtractionRecord{
		PaperID:  "paper-1",
		Findings: []string{"Only finding.", "   "},
	}

	chunks := c.Chunk(testPaper(), ext)
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" {
			t.Errorf("chunk %s has empty text", ch.ID)
		}
	}

	var findings int
	for _, ch := range chunks {
		if ch.Type == TypeFinding {
			findings++
		}
	}
	if findings != 1 {
		t.Errorf("expected blank finding to be skipped, got %d finding chunks", findings)
	}
}

func TestChunkTruncation(t *testing.T) {
	c := NewChunker(100, slog.New(slog.DiscardHandler))
	ext := testExtraction()
	ext.Abstract = strings.Repeat("long abstract text ", 50)

	chunks := c.Chunk(testPaper(), ext)
	for _, ch := range chunks {
		if ch.Type == TypeAbstract && len(ch.Text) > 100 {
			t.Errorf("abstract chunk not truncated: %d chars", len(ch.Text))
		}
	}
}

func TestChunkTruncationKeepsValidUTF8(t *testing.T) {
	c := NewChunker(100, slog.New(slog.DiscardHandler))
	ext := testExtraction()
	// Three-byte runes ensure the byte budget lands mid-rune.
	ext.Abstract = strings.Repeat("系統発生学", 50)

	chunks := c.Chunk(testPaper(), ext)
	for _, ch := range chunks {
		if ch.Type != TypeAbstract {
			continue
		}
		if len(ch.Text) > 100 {
			t.Errorf("abstract chunk not truncated: %d bytes", len(ch.Text))
		}
		if !utf8.ValidString(ch.Text) {
			t.Error("truncation split a rune")
		}
	}
}

func TestParseType(t *testing.T) {
	for _, v := range AllTypes {
		if _, err := ParseType(string(v)); err != nil {
			t.Errorf("ParseType(%q) failed: %v", v, err)
		}
	}
	if _, err := ParseType("paragraph"); err == nil {
		t.Error("expected error for unknown chunk type")
	}
}
