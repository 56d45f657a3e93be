package chunkstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/matsen/semlib/internal/chunk"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a chunk store backed by a single SQLite file. Vectors are
// stored as little-endian float32 BLOBs; similarity is computed in process
// over the filtered candidate set.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// OpenSQLite opens or creates a chunk store at the given path with the given
// vector dimensionality. Opening an existing store with a different
// dimensionality is a hard error: the index must be rebuilt, not coerced.
func OpenSQLite(path string, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", dimensions)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createChunkSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := checkDimensions(db, dimensions); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, dimensions: dimensions}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Dimensions returns the store's configured vector dimensionality.
func (s *SQLiteStore) Dimensions() int {
	return s.dimensions
}

func createChunkSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			paper_id TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			text TEXT NOT NULL,
			vector BLOB NOT NULL,
			title TEXT,
			authors_text TEXT,
			year INTEGER,
			item_type TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_paper ON chunks(paper_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(chunk_type);
		CREATE INDEX IF NOT EXISTS idx_chunks_year ON chunks(year);

		-- Collection membership, one row per (chunk, collection), so
		-- set-membership filters stay native SQL predicates.
		CREATE TABLE IF NOT EXISTS chunk_collections (
			chunk_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			PRIMARY KEY (chunk_id, collection)
		);

		CREATE INDEX IF NOT EXISTS idx_chunk_collections ON chunk_collections(collection);

		CREATE TABLE IF NOT EXISTS chunk_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// checkDimensions pins the store's dimensionality on first open and rejects
// any later open with a different value.
func checkDimensions(db *sql.DB, dimensions int) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM chunk_meta WHERE key = 'dimensions'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec(`INSERT INTO chunk_meta (key, value) VALUES ('dimensions', ?)`,
			strconv.Itoa(dimensions))
		if err != nil {
			return fmt.Errorf("recording dimensions: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: reading dimensions: %v", ErrUnavailable, err)
	}

	got, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt dimensions value %q: %w", stored, err)
	}
	if got != dimensions {
		return fmt.Errorf("%w: store has %d, configured %d", ErrDimensionMismatch, got, dimensions)
	}
	return nil
}

// Upsert inserts or replaces chunks by chunk ID in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []StoredChunk) error {
	for _, sc := range chunks {
		if len(sc.Vector) != s.dimensions {
			return fmt.Errorf("%w: chunk %s has %d, store has %d",
				ErrDimensionMismatch, sc.Chunk.ID, len(sc.Vector), s.dimensions)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (
			chunk_id, paper_id, chunk_type, ordinal, text, vector,
			title, authors_text, year, item_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	for _, sc := range chunks {
		c := sc.Chunk
		_, err = chunkStmt.ExecContext(ctx,
			c.ID, c.PaperID, string(c.Type), c.Ordinal, c.Text, encodeVector(sc.Vector),
			c.Metadata.Title, c.Metadata.AuthorsText, c.Metadata.Year, c.Metadata.ItemType,
		)
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_collections WHERE chunk_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clearing collections for %s: %w", c.ID, err)
		}
		for _, coll := range c.Metadata.Collections {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunk_collections (chunk_id, collection) VALUES (?, ?)`,
				c.ID, coll); err != nil {
				return fmt.Errorf("inserting collection for %s: %w", c.ID, err)
			}
		}
	}

	return tx.Commit()
}

// DeleteByPaper removes every chunk belonging to the given paper.
func (s *SQLiteStore) DeleteByPaper(ctx context.Context, paperID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunk_collections
		WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE paper_id = ?)
	`, paperID); err != nil {
		return fmt.Errorf("deleting collections for paper %s: %w", paperID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE paper_id = ?`, paperID); err != nil {
		return fmt.Errorf("deleting chunks for paper %s: %w", paperID, err)
	}

	return tx.Commit()
}

// Query returns the topN most similar chunks among those matching the filter.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, topN int, filter Filter) ([]Hit, error) {
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("%w: query vector has %d, store has %d",
			ErrDimensionMismatch, len(vector), s.dimensions)
	}

	where, args := translateFilter(filter)
	query := `
		SELECT chunk_id, paper_id, chunk_type, ordinal, text, vector,
			title, authors_text, year, item_type
		FROM chunks` + where

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunks: %v", ErrUnavailable, err)
	}

	// Drain the result set before issuing any other query: the pool is
	// capped at one connection, and a nested query while rows are open
	// would wait on it forever.
	var hits []Hit
	for rows.Next() {
		sc, err := scanStoredChunk(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		hits = append(hits, Hit{
			Chunk: sc.Chunk,
			Score: CosineSimilarity(vector, sc.Vector),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: reading chunks: %v", ErrUnavailable, err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("%w: reading chunks: %v", ErrUnavailable, err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}

	// Collection membership lives in its own table; attach it only to the
	// hits that survive ranking.
	for i := range hits {
		hits[i].Chunk.Metadata.Collections, err = s.collectionsFor(ctx, hits[i].Chunk.ID)
		if err != nil {
			return nil, err
		}
	}
	return hits, nil
}

// PaperVector returns the stored vector for one chunk of a paper.
func (s *SQLiteStore) PaperVector(ctx context.Context, paperID string, t chunk.Type) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT vector FROM chunks
		WHERE paper_id = ? AND chunk_type = ? AND ordinal = 0
	`, paperID, string(t)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: paper %s has no %s chunk", ErrNotFound, paperID, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading vector: %v", ErrUnavailable, err)
	}
	return decodeVector(blob)
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrUnavailable, err)
	}
	return count, nil
}

// translateFilter renders a Filter as a SQL WHERE clause. Every predicate is
// a range or set-membership test; free-text matching is the embedding's job.
func translateFilter(f Filter) (string, []any) {
	var conds []string
	var args []any

	if len(f.ChunkTypes) > 0 {
		conds = append(conds, "chunk_type IN ("+placeholders(len(f.ChunkTypes))+")")
		for _, t := range f.ChunkTypes {
			args = append(args, string(t))
		}
	}
	if len(f.ItemTypes) > 0 {
		conds = append(conds, "item_type IN ("+placeholders(len(f.ItemTypes))+")")
		for _, it := range f.ItemTypes {
			args = append(args, it)
		}
	}
	if f.YearMin > 0 {
		conds = append(conds, "year >= ?")
		args = append(args, f.YearMin)
	}
	if f.YearMax > 0 {
		conds = append(conds, "year <= ?")
		args = append(args, f.YearMax)
	}
	if len(f.Collections) > 0 {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM chunk_collections cc
			WHERE cc.chunk_id = chunks.chunk_id
			AND cc.collection IN (`+placeholders(len(f.Collections))+`))`)
		for _, c := range f.Collections {
			args = append(args, c)
		}
	}
	if f.ExcludePaperID != "" {
		conds = append(conds, "paper_id != ?")
		args = append(args, f.ExcludePaperID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) collectionsFor(ctx context.Context, chunkID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection FROM chunk_collections WHERE chunk_id = ? ORDER BY collection`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading collections: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var colls []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		colls = append(colls, c)
	}
	return colls, rows.Err()
}

func scanStoredChunk(rows *sql.Rows) (StoredChunk, error) {
	var sc StoredChunk
	var chunkType string
	var blob []byte
	var title, authorsText, itemType sql.NullString
	var year sql.NullInt64

	err := rows.Scan(
		&sc.Chunk.ID, &sc.Chunk.PaperID, &chunkType, &sc.Chunk.Ordinal,
		&sc.Chunk.Text, &blob, &title, &authorsText, &year, &itemType,
	)
	if err != nil {
		return StoredChunk{}, err
	}

	sc.Chunk.Type = chunk.Type(chunkType)
	sc.Chunk.Metadata.Title = title.String
	sc.Chunk.Metadata.AuthorsText = authorsText.String
	sc.Chunk.Metadata.ItemType = itemType.String
	if year.Valid {
		sc.Chunk.Metadata.Year = int(year.Int64)
	}

	sc.Vector, err = decodeVector(blob)
	if err != nil {
		return StoredChunk{}, fmt.Errorf("decoding vector for %s: %w", sc.Chunk.ID, err)
	}
	return sc, nil
}
