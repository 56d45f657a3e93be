package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/matsen/semlib/internal/chunk"
	"github.com/matsen/semlib/internal/chunkstore"
	"github.com/matsen/semlib/internal/embedding"
	"github.com/matsen/semlib/internal/record"
	"github.com/matsen/semlib/internal/recordstore"
	"github.com/matsen/semlib/internal/source"
)

const testDims = 3

type stubProvider struct{}

func (stubProvider) Embed(ctx context.Context, text string) (embedding.Embedding, error) {
	return embedding.Embedding{Vector: []float32{1, 0, 0}}, nil
}

func (stubProvider) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Embedding, error) {
	out := make([]embedding.Embedding, len(texts))
	for i := range texts {
		out[i] = embedding.Embedding{Vector: []float32{1, 0, 0}}
	}
	return out, nil
}

func (stubProvider) ModelName() string { return "stub" }
func (stubProvider) Dimensions() int   { return testDims }

// stubExtractor returns a fixed extraction, or fails for source keys listed
// in failFor.
type stubExtractor struct {
	failFor map[string]bool
}

func (s *stubExtractor) Extract(ctx context.Context, paperID, text string, paper *record.PaperRecord) (*record.ExtractionRecord, error) {
	if s.failFor[paper.SourceKey] {
		return nil, fmt.Errorf("model refused")
	}
	return &record.ExtractionRecord{
		PaperID:  paperID,
		Version:  1,
		Thesis:   "a thesis about " + paper.Title,
		Findings: []string{"finding one", "finding two"},
	}, nil
}

func openRecords(t *testing.T) recordstore.Store {
	t.Helper()
	store, err := recordstore.OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("opening record store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testUpdater(t *testing.T, records recordstore.Store, chunks chunkstore.Store, ex *stubExtractor) *Updater {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	u := NewUpdater(chunks, records, chunk.NewChunker(chunk.DefaultMaxChunkChars, logger), stubProvider{}, ex, logger)
	u.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return u
}

func libraryItem(key, title string, modified time.Time) source.Item {
	return source.Item{
		SourceKey:   key,
		Title:       title,
		Year:        2020,
		ItemType:    "journalArticle",
		ModifiedAt:  modified,
		Fingerprint: "fp-" + key + "-" + modified.Format(time.RFC3339),
		Text:        "abstract for " + title,
	}
}

func TestDetectFirstRunEverythingNew(t *testing.T) {
	records := openRecords(t)
	items := []source.Item{
		libraryItem("K1", "First", time.Now()),
		libraryItem("K2", "Second", time.Now()),
	}

	report, err := Detect(context.Background(), items, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(report.New) != 2 || len(report.Modified) != 0 || len(report.Deleted) != 0 {
		t.Errorf("report = %+v, want all new", report)
	}
	if report.New[0] != "K1" || report.New[1] != "K2" {
		t.Errorf("new keys not sorted: %v", report.New)
	}
}

func TestDetectClassification(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	watermark := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	// Index two papers, then move the watermark past both.
	items := []source.Item{
		libraryItem("OLD", "Stays", watermark.Add(-48*time.Hour)),
		libraryItem("GONE", "Removed later", watermark.Add(-48*time.Hour)),
	}
	u := testUpdater(t, records, chunks, &stubExtractor{})
	report, err := Detect(ctx, items, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if _, err := u.Apply(ctx, report, items); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := records.SetWatermark(ctx, watermark); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	// Next pass: OLD unchanged, GONE missing, EDIT rewritten, FRESH new.
	library := []source.Item{
		items[0],
		libraryItem("EDIT", "Rewritten", watermark.Add(time.Hour)),
		libraryItem("FRESH", "Brand new", watermark.Add(time.Hour)),
	}
	report2, err := Detect(ctx, library, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(report2.New) != 2 {
		t.Errorf("new = %v, want EDIT and FRESH", report2.New)
	}
	if report2.UnchangedCount != 1 {
		t.Errorf("unchanged = %d, want 1", report2.UnchangedCount)
	}
	if len(report2.Deleted) != 1 {
		t.Fatalf("deleted = %v, want one paper ID", report2.Deleted)
	}
	gone, err := records.GetPaperBySourceKey(ctx, "GONE")
	if err != nil {
		t.Fatalf("looking up GONE: %v", err)
	}
	if report2.Deleted[0] != gone.PaperID {
		t.Errorf("deleted = %v, want %s", report2.Deleted, gone.PaperID)
	}
}

func TestDetectWatermarkBoundaryIsModified(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	watermark := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	item := libraryItem("K1", "Boundary", watermark.Add(-time.Hour))
	u := testUpdater(t, records, chunks, &stubExtractor{})
	report, _ := Detect(ctx, []source.Item{item}, records)
	if _, err := u.Apply(ctx, report, []source.Item{item}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := records.SetWatermark(ctx, watermark); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	// Same fingerprint, modified at exactly the watermark instant.
	existing, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	atBoundary := item
	atBoundary.ModifiedAt = watermark
	atBoundary.Fingerprint = existing.ContentFingerprint

	report2, err := Detect(ctx, []source.Item{atBoundary}, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(report2.Modified) != 1 || report2.Modified[0] != "K1" {
		t.Errorf("modified = %v, want [K1]: boundary timestamp must count as modified", report2.Modified)
	}
}

func TestDetectSetsPartition(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	watermark := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	items := []source.Item{libraryItem("A", "A", watermark.Add(-time.Hour))}
	u := testUpdater(t, records, chunks, &stubExtractor{})
	report, _ := Detect(ctx, items, records)
	if _, err := u.Apply(ctx, report, items); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := records.SetWatermark(ctx, watermark); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	library := []source.Item{
		items[0],
		libraryItem("B", "B", watermark.Add(time.Hour)),
	}
	report2, err := Detect(ctx, library, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	classified := len(report2.New) + len(report2.Modified) + report2.UnchangedCount
	if classified != len(library) {
		t.Errorf("new+modified+unchanged = %d, want %d", classified, len(library))
	}
	seen := map[string]bool{}
	for _, k := range append(append([]string{}, report2.New...), report2.Modified...) {
		if seen[k] {
			t.Errorf("key %s classified twice", k)
		}
		seen[k] = true
	}
}

func TestApplyAddsPapers(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	u := testUpdater(t, records, chunks, &stubExtractor{})

	items := []source.Item{libraryItem("K1", "First", time.Now())}
	report, _ := Detect(ctx, items, records)
	summary, err := u.Apply(ctx, report, items)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if summary.Added.Succeeded != 1 || summary.Added.Failed != 0 {
		t.Errorf("added = %+v", summary.Added)
	}

	paper, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("paper not stored: %v", err)
	}
	if _, err := records.GetExtraction(ctx, paper.PaperID); err != nil {
		t.Errorf("extraction not stored: %v", err)
	}
	n, err := chunks.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	// Thesis, two findings, full summary.
	if n != 4 {
		t.Errorf("chunk count = %d, want 4", n)
	}
	if _, _, err := records.Watermark(ctx); err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	wm, ok, _ := records.Watermark(ctx)
	if !ok || !wm.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("watermark = %v ok=%v, want run completion time", wm, ok)
	}
}

func TestApplyPartialFailure(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	u := testUpdater(t, records, chunks, &stubExtractor{failFor: map[string]bool{"BAD": true}})

	items := []source.Item{
		libraryItem("BAD", "Fails extraction", time.Now()),
		libraryItem("GOOD", "Succeeds", time.Now()),
	}
	report, _ := Detect(ctx, items, records)
	summary, err := u.Apply(ctx, report, items)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if summary.Added.Attempted != 2 || summary.Added.Succeeded != 1 || summary.Added.Failed != 1 {
		t.Errorf("added = %+v, want attempted=2 succeeded=1 failed=1", summary.Added)
	}
	if len(summary.Added.Failures) != 1 || summary.Added.Failures[0].SourceKey != "BAD" {
		t.Errorf("failures = %+v", summary.Added.Failures)
	}
	if _, err := records.GetPaperBySourceKey(ctx, "GOOD"); err != nil {
		t.Errorf("succeeding paper missing: %v", err)
	}
	if _, err := records.GetPaperBySourceKey(ctx, "BAD"); !errors.Is(err, recordstore.ErrNotFound) {
		t.Errorf("failed paper should not be stored, got err=%v", err)
	}
	if _, ok, _ := records.Watermark(ctx); !ok {
		t.Error("watermark should advance after a completed run with per-item failures")
	}
}

func TestApplyModificationReplacesChunksAndKeepsPaperID(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	u := testUpdater(t, records, chunks, &stubExtractor{})

	item := libraryItem("K1", "Original title", time.Now())
	report, _ := Detect(ctx, []source.Item{item}, records)
	if _, err := u.Apply(ctx, report, []source.Item{item}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	before, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	edited := item
	edited.Title = "Revised title"
	edited.Fingerprint = "fp-changed"
	report2 := &ChangeReport{Modified: []string{"K1"}}
	summary, err := u.Apply(ctx, report2, []source.Item{edited})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if summary.Updated.Succeeded != 1 {
		t.Errorf("updated = %+v", summary.Updated)
	}

	after, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if after.PaperID != before.PaperID {
		t.Errorf("paper ID changed across modification: %s -> %s", before.PaperID, after.PaperID)
	}
	if after.Title != "Revised title" {
		t.Errorf("title = %q", after.Title)
	}
	n, _ := chunks.Count(ctx)
	if n != 4 {
		t.Errorf("chunk count = %d, want 4 (old set replaced, not merged)", n)
	}
}

func TestApplyDeletionRemovesAllChunks(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	u := testUpdater(t, records, chunks, &stubExtractor{})

	item := libraryItem("K1", "Doomed", time.Now())
	report, _ := Detect(ctx, []source.Item{item}, records)
	if _, err := u.Apply(ctx, report, []source.Item{item}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	paper, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	report2, err := Detect(ctx, nil, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(report2.Deleted) != 1 {
		t.Fatalf("deleted = %v", report2.Deleted)
	}
	summary, err := u.Apply(ctx, report2, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if summary.Deleted.Succeeded != 1 {
		t.Errorf("deleted = %+v", summary.Deleted)
	}
	if _, err := records.GetPaper(ctx, paper.PaperID); !errors.Is(err, recordstore.ErrNotFound) {
		t.Errorf("record still present, err=%v", err)
	}
	n, _ := chunks.Count(ctx)
	if n != 0 {
		t.Errorf("chunk count = %d, want 0 after deletion", n)
	}
}

// failingChunkStore reports the store as unreachable on every write.
type failingChunkStore struct {
	chunkstore.Store
}

func (f failingChunkStore) Upsert(ctx context.Context, chunks []chunkstore.StoredChunk) error {
	return fmt.Errorf("%w: connection refused", chunkstore.ErrUnavailable)
}

func TestApplyUnavailableStoreAbortsWithoutWatermark(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := failingChunkStore{chunkstore.NewMemoryStore(testDims)}
	u := testUpdater(t, records, chunks, &stubExtractor{})

	items := []source.Item{libraryItem("K1", "First", time.Now())}
	report, _ := Detect(ctx, items, records)
	if _, err := u.Apply(ctx, report, items); !errors.Is(err, chunkstore.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if _, ok, _ := records.Watermark(ctx); ok {
		t.Error("watermark must not advance after an aborted run")
	}
}

// flakyChunkStore fails the first few writes, then behaves normally.
type flakyChunkStore struct {
	chunkstore.Store
	failures int
	err      error
}

func (f *flakyChunkStore) Upsert(ctx context.Context, chunks []chunkstore.StoredChunk) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return f.Store.Upsert(ctx, chunks)
}

func TestApplyRetryAfterAbortedRunKeepsPaperID(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := &flakyChunkStore{
		Store:    chunkstore.NewMemoryStore(testDims),
		failures: 1,
		err:      fmt.Errorf("%w: connection refused", chunkstore.ErrUnavailable),
	}
	u := testUpdater(t, records, chunks, &stubExtractor{})
	items := []source.Item{libraryItem("K1", "First", time.Now())}

	report, _ := Detect(ctx, items, records)
	if _, err := u.Apply(ctx, report, items); !errors.Is(err, chunkstore.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	first, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("record missing after aborted run: %v", err)
	}

	// Store recovered; the item is picked up again and must land on the
	// same paper ID rather than hitting a source key conflict.
	report2, _ := Detect(ctx, items, records)
	summary, err := u.Apply(ctx, report2, items)
	if err != nil {
		t.Fatalf("Apply after recovery failed: %v", err)
	}
	if summary.Added.Failed != 0 || summary.Added.Succeeded != 1 {
		t.Fatalf("retry summary = %+v, want one success", summary.Added)
	}
	second, err := records.GetPaperBySourceKey(ctx, "K1")
	if err != nil {
		t.Fatalf("lookup after retry failed: %v", err)
	}
	if second.PaperID != first.PaperID {
		t.Errorf("paper ID changed across retry: %s != %s", second.PaperID, first.PaperID)
	}
	if n, _ := chunks.Count(ctx); n == 0 {
		t.Error("no chunks stored after successful retry")
	}
}

func TestApplyChunkFailureLeavesRepairableRecord(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := &flakyChunkStore{
		Store:    chunkstore.NewMemoryStore(testDims),
		failures: 1,
		err:      errors.New("disk full"),
	}
	u := testUpdater(t, records, chunks, &stubExtractor{})
	items := []source.Item{libraryItem("K1", "First", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))}

	report, _ := Detect(ctx, items, records)
	summary, err := u.Apply(ctx, report, items)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if summary.Added.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", summary.Added)
	}

	// The half-indexed paper carries no fingerprint, so the next pass
	// sees it as modified even though its timestamp predates the
	// watermark, and a repair run fills in the missing chunks.
	report2, err := Detect(ctx, items, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(report2.Modified) != 1 || report2.Modified[0] != "K1" {
		t.Fatalf("modified = %v, want [K1]: half-indexed paper must not read as unchanged", report2.Modified)
	}
	if _, err := u.Apply(ctx, report2, items); err != nil {
		t.Fatalf("repair run failed: %v", err)
	}
	if n, _ := chunks.Count(ctx); n == 0 {
		t.Error("no chunks stored after repair run")
	}
}

func TestDetectFingerprintChangeWithStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	records := openRecords(t)
	chunks := chunkstore.NewMemoryStore(testDims)
	watermark := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	item := libraryItem("K1", "Stale", watermark.Add(-48*time.Hour))
	u := testUpdater(t, records, chunks, &stubExtractor{})
	report, _ := Detect(ctx, []source.Item{item}, records)
	if _, err := u.Apply(ctx, report, []source.Item{item}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := records.SetWatermark(ctx, watermark); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	// Timestamp predates the watermark, but the content changed.
	reverted := item
	reverted.Fingerprint = "fp-other"
	report2, err := Detect(ctx, []source.Item{reverted}, records)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(report2.Modified) != 1 || report2.Modified[0] != "K1" {
		t.Errorf("modified = %v, want [K1]: fingerprint change must win over a stale timestamp", report2.Modified)
	}
	if report2.UnchangedCount != 0 {
		t.Errorf("unchanged count = %d, want 0", report2.UnchangedCount)
	}
}
