package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matsen/semlib/internal/chunk"
	"github.com/matsen/semlib/internal/chunkstore"
	"github.com/matsen/semlib/internal/embedding"
	"github.com/matsen/semlib/internal/extractor"
	"github.com/matsen/semlib/internal/pdftext"
	"github.com/matsen/semlib/internal/record"
	"github.com/matsen/semlib/internal/recordstore"
	"github.com/matsen/semlib/internal/source"
)

// ItemFailure records one item that could not be processed during a run.
type ItemFailure struct {
	SourceKey string `json:"source_key"`
	Error     string `json:"error"`
}

// ActionResult counts outcomes for one change class within a run.
type ActionResult struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

func (r *ActionResult) fail(sourceKey string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, ItemFailure{SourceKey: sourceKey, Error: err.Error()})
}

// Summary aggregates the outcome of one update run.
type Summary struct {
	Added     ActionResult `json:"added"`
	Updated   ActionResult `json:"updated"`
	Deleted   ActionResult `json:"deleted"`
	Unchanged int          `json:"unchanged"`
}

// Updater applies a change report to the index: extraction, chunking,
// embedding, and storage for each changed paper.
type Updater struct {
	chunks    chunkstore.Store
	records   recordstore.Store
	chunker   *chunk.Chunker
	provider  embedding.Provider
	extractor extractor.Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewUpdater wires an updater over its collaborators.
func NewUpdater(chunks chunkstore.Store, records recordstore.Store, chunker *chunk.Chunker, provider embedding.Provider, ex extractor.Extractor, logger *slog.Logger) *Updater {
	return &Updater{
		chunks:    chunks,
		records:   records,
		chunker:   chunker,
		provider:  provider,
		extractor: ex,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply processes a change report: deletions first, then modifications, then
// additions. A per-item failure is recorded in the summary and the batch
// continues; an unavailable store aborts the run and leaves the watermark
// untouched so the next detect pass sees the unprocessed changes again. The
// watermark advances after a completed run even when some items failed.
func (u *Updater) Apply(ctx context.Context, report *ChangeReport, items []source.Item) (*Summary, error) {
	byKey := make(map[string]source.Item, len(items))
	for _, item := range items {
		byKey[item.SourceKey] = item
	}

	summary := &Summary{Unchanged: report.UnchangedCount}

	for _, paperID := range report.Deleted {
		summary.Deleted.Attempted++
		if err := u.deletePaper(ctx, paperID); err != nil {
			if isUnavailable(err) {
				return summary, err
			}
			u.logger.Warn("delete failed", "paper_id", paperID, "error", err)
			summary.Deleted.fail(paperID, err)
			continue
		}
		summary.Deleted.Succeeded++
	}

	for _, sourceKey := range report.Modified {
		summary.Updated.Attempted++
		item, ok := byKey[sourceKey]
		if !ok {
			summary.Updated.fail(sourceKey, fmt.Errorf("source item missing from library snapshot"))
			continue
		}
		if err := u.modifyPaper(ctx, item); err != nil {
			if isUnavailable(err) {
				return summary, err
			}
			u.logger.Warn("update failed", "source_key", sourceKey, "error", err)
			summary.Updated.fail(sourceKey, err)
			continue
		}
		summary.Updated.Succeeded++
	}

	for _, sourceKey := range report.New {
		summary.Added.Attempted++
		item, ok := byKey[sourceKey]
		if !ok {
			summary.Added.fail(sourceKey, fmt.Errorf("source item missing from library snapshot"))
			continue
		}
		if err := u.addPaper(ctx, item); err != nil {
			if isUnavailable(err) {
				return summary, err
			}
			u.logger.Warn("add failed", "source_key", sourceKey, "error", err)
			summary.Added.fail(sourceKey, err)
			continue
		}
		summary.Added.Succeeded++
	}

	if err := u.records.SetWatermark(ctx, u.now()); err != nil {
		return summary, fmt.Errorf("advancing watermark: %w", err)
	}
	return summary, nil
}

// deletePaper removes chunks before the record. If the run dies between the
// two steps we are left with a chunkless record, which the next detect pass
// repairs; the reverse order would strand unreachable chunks.
func (u *Updater) deletePaper(ctx context.Context, paperID string) error {
	if err := u.chunks.DeleteByPaper(ctx, paperID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if err := u.records.DeletePaper(ctx, paperID); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// addPaper indexes a new item. A record for the source key may already
// exist if an earlier run died between the record write and the watermark
// advance; its paper ID is reused so a source key never maps to two papers.
func (u *Updater) addPaper(ctx context.Context, item source.Item) error {
	paperID := ""
	replaceChunks := false
	existing, err := u.records.GetPaperBySourceKey(ctx, item.SourceKey)
	switch {
	case err == nil:
		paperID = existing.PaperID
		replaceChunks = true
	case errors.Is(err, recordstore.ErrNotFound):
		paperID = record.NewPaperID()
	default:
		return fmt.Errorf("checking for existing record: %w", err)
	}
	paper := paperFromItem(item, paperID, u.now())
	return u.indexPaper(ctx, paper, item, replaceChunks)
}

func (u *Updater) modifyPaper(ctx context.Context, item source.Item) error {
	existing, err := u.records.GetPaperBySourceKey(ctx, item.SourceKey)
	if err != nil {
		return fmt.Errorf("loading existing record: %w", err)
	}
	paper := paperFromItem(item, existing.PaperID, u.now())
	return u.indexPaper(ctx, paper, item, true)
}

// indexPaper runs the full derive pipeline for one paper. Extraction and
// embedding happen before any store write, so a pipeline failure leaves the
// previous index state intact. On modification the old chunk set is deleted
// in full before the new one is inserted; old and new chunks are never
// merged.
func (u *Updater) indexPaper(ctx context.Context, paper *record.PaperRecord, item source.Item, replaceChunks bool) error {
	ext, err := u.extractor.Extract(ctx, paper.PaperID, u.textFor(item), paper)
	if err != nil {
		return fmt.Errorf("extraction: %w", err)
	}

	chunks := u.chunker.Chunk(paper, ext)
	stored, err := u.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	// The record is written twice: a provisional copy without the
	// fingerprint before the chunks go in, and the final copy after. A
	// run that dies in between leaves a fingerprint mismatch, so the
	// next detect pass classifies the item as modified and repairs it
	// instead of treating a half-indexed paper as up to date.
	provisional := *paper
	provisional.ContentFingerprint = ""
	if err := u.records.PutPaper(ctx, &provisional); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	if err := u.records.PutExtraction(ctx, ext); err != nil {
		return fmt.Errorf("storing extraction: %w", err)
	}
	if replaceChunks {
		if err := u.chunks.DeleteByPaper(ctx, paper.PaperID); err != nil {
			return fmt.Errorf("deleting old chunks: %w", err)
		}
	}
	if err := u.chunks.Upsert(ctx, stored); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}
	if err := u.records.PutPaper(ctx, paper); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}

// textFor picks the extraction input for an item: its library text when
// present, otherwise the attached PDF's text. A PDF that yields no text
// falls back to whatever the library gave us.
func (u *Updater) textFor(item source.Item) string {
	if item.Text != "" || item.PDFPath == "" {
		return item.Text
	}
	text, err := pdftext.Extract(item.PDFPath, 0)
	if err != nil {
		u.logger.Warn("pdf text extraction failed", "source_key", item.SourceKey, "error", err)
		return item.Text
	}
	return text
}

// embedChunks embeds all of a paper's chunk texts in one provider call.
func (u *Updater) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([]chunkstore.StoredChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := u.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	stored := make([]chunkstore.StoredChunk, len(chunks))
	for i, c := range chunks {
		stored[i] = chunkstore.StoredChunk{Chunk: c, Vector: embeddings[i].Vector}
	}
	return stored, nil
}

func paperFromItem(item source.Item, paperID string, now time.Time) *record.PaperRecord {
	return &record.PaperRecord{
		PaperID:            paperID,
		SourceKey:          item.SourceKey,
		Title:              item.Title,
		Authors:            item.Authors,
		Year:               item.Year,
		Venue:              item.Venue,
		ItemType:           item.ItemType,
		DOI:                item.DOI,
		ISBN:               item.ISBN,
		Collections:        item.Collections,
		Tags:               item.Tags,
		ContentFingerprint: item.Fingerprint,
		LastIndexedAt:      now,
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, chunkstore.ErrUnavailable) || errors.Is(err, recordstore.ErrUnavailable)
}
