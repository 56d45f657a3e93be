package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matsen/semlib/internal/record"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a record store backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// selectPaperFields is the standard field list for paper SELECT queries.
const selectPaperFields = `paper_id, source_key, title, authors_json, year, venue,
	item_type, doi, isbn, collections_json, tags_json,
	content_fingerprint, last_indexed_at`

// watermarkKey is the index_meta row holding the last-update watermark.
const watermarkKey = "last_update"

// OpenSQLite opens or creates a record store at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createRecordSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createRecordSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			paper_id TEXT PRIMARY KEY,
			source_key TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			authors_json TEXT NOT NULL,
			year INTEGER,
			venue TEXT,
			item_type TEXT,
			doi TEXT,
			isbn TEXT,
			collections_json TEXT,
			tags_json TEXT,
			content_fingerprint TEXT,
			last_indexed_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_papers_doi ON papers(doi) WHERE doi IS NOT NULL AND doi != '';

		CREATE TABLE IF NOT EXISTS extractions (
			paper_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			payload_json TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS index_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// PutPaper inserts or updates a paper record.
func (s *SQLiteStore) PutPaper(ctx context.Context, p *record.PaperRecord) error {
	if err := record.ValidatePaper(p); err != nil {
		return err
	}

	// One source item maps to at most one paper.
	existing, err := s.GetPaperBySourceKey(ctx, p.SourceKey)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil && existing.PaperID != p.PaperID {
		return fmt.Errorf("%w: %s is %s, attempted %s",
			ErrSourceKeyConflict, p.SourceKey, existing.PaperID, p.PaperID)
	}

	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", p.PaperID, err)
	}
	collectionsJSON, err := json.Marshal(p.Collections)
	if err != nil {
		return fmt.Errorf("marshaling collections for %s: %w", p.PaperID, err)
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags for %s: %w", p.PaperID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO papers (
			paper_id, source_key, title, authors_json, year, venue,
			item_type, doi, isbn, collections_json, tags_json,
			content_fingerprint, last_indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.PaperID, p.SourceKey, p.Title, string(authorsJSON), p.Year, p.Venue,
		p.ItemType, nullableStringValue(p.DOI), nullableStringValue(p.ISBN),
		string(collectionsJSON), string(tagsJSON),
		p.ContentFingerprint, p.LastIndexedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting paper %s: %v", ErrUnavailable, p.PaperID, err)
	}
	return nil
}

// GetPaper returns a paper by its stable ID.
func (s *SQLiteStore) GetPaper(ctx context.Context, paperID string) (*record.PaperRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectPaperFields+` FROM papers WHERE paper_id = ?`, paperID)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, paperID)
	}
	return p, err
}

// GetPaperBySourceKey returns a paper by its external library key.
func (s *SQLiteStore) GetPaperBySourceKey(ctx context.Context, sourceKey string) (*record.PaperRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectPaperFields+` FROM papers WHERE source_key = ?`, sourceKey)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// DeletePaper removes a paper and its extraction record.
func (s *SQLiteStore) DeletePaper(ctx context.Context, paperID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM extractions WHERE paper_id = ?`, paperID); err != nil {
		return fmt.Errorf("deleting extraction for %s: %w", paperID, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM papers WHERE paper_id = ?`, paperID)
	if err != nil {
		return fmt.Errorf("deleting paper %s: %w", paperID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, paperID)
	}

	return tx.Commit()
}

// ListPapers returns all paper records ordered by paper ID.
func (s *SQLiteStore) ListPapers(ctx context.Context) ([]record.PaperRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectPaperFields+` FROM papers ORDER BY paper_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing papers: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var papers []record.PaperRecord
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// PutExtraction stores the extraction payload for a paper. The paper record
// must already exist; extractions never dangle.
func (s *SQLiteStore) PutExtraction(ctx context.Context, e *record.ExtractionRecord) error {
	if err := record.ValidateExtraction(e); err != nil {
		return err
	}
	if _, err := s.GetPaper(ctx, e.PaperID); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling extraction for %s: %w", e.PaperID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO extractions (paper_id, version, payload_json)
		VALUES (?, ?, ?)
	`, e.PaperID, e.Version, string(payload))
	if err != nil {
		return fmt.Errorf("%w: inserting extraction %s: %v", ErrUnavailable, e.PaperID, err)
	}
	return nil
}

// GetExtraction returns a paper's extraction payload.
func (s *SQLiteStore) GetExtraction(ctx context.Context, paperID string) (*record.ExtractionRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM extractions WHERE paper_id = ?`, paperID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: extraction for %s", ErrNotFound, paperID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading extraction: %v", ErrUnavailable, err)
	}

	var e record.ExtractionRecord
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("parsing extraction for %s: %w", paperID, err)
	}
	return &e, nil
}

// Watermark returns the timestamp of the last completed update run.
func (s *SQLiteStore) Watermark(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM index_meta WHERE key = ?`, watermarkKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: reading watermark: %v", ErrUnavailable, err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt watermark %q: %w", value, err)
	}
	return t, true, nil
}

// SetWatermark records the completion time of an update run.
func (s *SQLiteStore) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO index_meta (key, value) VALUES (?, ?)
	`, watermarkKey, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: writing watermark: %v", ErrUnavailable, err)
	}
	return nil
}

// scanner interface for sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPaper(s scanner) (*record.PaperRecord, error) {
	var p record.PaperRecord
	var authorsJSON string
	var venue, itemType, doi, isbn, collectionsJSON, tagsJSON, fingerprint sql.NullString
	var year, lastIndexed sql.NullInt64

	err := s.Scan(
		&p.PaperID, &p.SourceKey, &p.Title, &authorsJSON, &year, &venue,
		&itemType, &doi, &isbn, &collectionsJSON, &tagsJSON,
		&fingerprint, &lastIndexed,
	)
	if err != nil {
		return nil, err
	}

	p.Venue = venue.String
	p.ItemType = itemType.String
	p.DOI = doi.String
	p.ISBN = isbn.String
	p.ContentFingerprint = fingerprint.String
	if year.Valid {
		p.Year = int(year.Int64)
	}
	if lastIndexed.Valid {
		p.LastIndexedAt = time.Unix(lastIndexed.Int64, 0).UTC()
	}

	if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
		return nil, fmt.Errorf("parsing authors JSON for %s: %w", p.PaperID, err)
	}
	if collectionsJSON.Valid && collectionsJSON.String != "" {
		if err := json.Unmarshal([]byte(collectionsJSON.String), &p.Collections); err != nil {
			return nil, fmt.Errorf("parsing collections JSON for %s: %w", p.PaperID, err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &p.Tags); err != nil {
			return nil, fmt.Errorf("parsing tags JSON for %s: %w", p.PaperID, err)
		}
	}

	return &p, nil
}

// nullableStringValue converts a string to sql.NullString, treating empty as NULL.
func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
