// Package index persists chunk embeddings and a BM25 full-text index in
// a single SQLite database, using sqlite-vec for KNN search and FTS5 for
// keyword search.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/temosalmi/wattson/chunks"
	"github.com/temosalmi/wattson/llm"
)

func init() {
	sqlite_vec.Auto()
}

const embedBatchSize = 32

// ScoredChunk pairs a chunk with its retrieval score. Scores come from
// the underlying store and are not reinterpreted by callers.
type ScoredChunk struct {
	Chunk chunks.Chunk `json:"chunk"`
	Score float64      `json:"score"`
}

// Index wraps the SQLite database holding the vector and lexical indexes.
type Index struct {
	db           *sql.DB
	embedder     llm.Provider
	embeddingDim int
}

func openDB(dbPath string, embeddingDim int) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging index database: %w", err)
	}
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Build recreates the index database from the given chunks, embedding
// them in batches, and writes the index manifest with the embedding
// model and dimension.
func Build(ctx context.Context, dir string, all []chunks.Chunk, embedder llm.Provider, model string) (*Index, error) {
	dbPath := filepath.Join(dir, "index.db")
	// Rebuild from scratch so deleted chunks do not linger.
	_ = os.Remove(dbPath)

	dim, err := probeDimension(ctx, embedder)
	if err != nil {
		return nil, err
	}

	db, err := openDB(dbPath, dim)
	if err != nil {
		return nil, err
	}
	ix := &Index{db: db, embedder: embedder, embeddingDim: dim}

	if err := ix.insertChunks(ctx, all); err != nil {
		ix.Close()
		return nil, err
	}
	if err := ix.embedAll(ctx, all); err != nil {
		ix.Close()
		return nil, err
	}

	m := &Manifest{
		Model:     model,
		Dimension: dim,
		Chunks:    len(all),
		BuiltAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.Save(filepath.Join(dir, "index_manifest.json")); err != nil {
		ix.Close()
		return nil, err
	}

	slog.Info("index: build complete", "chunks", len(all), "dimension", dim, "model", model)
	return ix, nil
}

// Load opens an existing index. It fails fast when the directory or the
// manifest is missing, or when the recorded embedding dimension does not
// match the current embedder.
func Load(ctx context.Context, dir string, embedder llm.Provider) (*Index, error) {
	m, err := LoadManifest(filepath.Join(dir, "index_manifest.json"))
	if err != nil {
		return nil, err
	}

	dim, err := probeDimension(ctx, embedder)
	if err != nil {
		return nil, err
	}
	if dim != m.Dimension {
		return nil, fmt.Errorf("%w: index has %d, embedder returns %d",
			ErrDimensionMismatch, m.Dimension, dim)
	}

	dbPath := filepath.Join(dir, "index.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dbPath)
	}

	db, err := openDB(dbPath, m.Dimension)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, embedder: embedder, embeddingDim: m.Dimension}, nil
}

// Close closes the underlying database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// probeDimension embeds a fixed probe string to learn the current
// embedding dimension.
func probeDimension(ctx context.Context, embedder llm.Provider) (int, error) {
	vecs, err := embedder.Embed(ctx, []string{"probe"})
	if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probing embedding dimension: %w", err)
	}
	return len(vecs[0]), nil
}

func (ix *Index) insertChunks(ctx context.Context, all []chunks.Chunk) error {
	return ix.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (chunk_id, doc_id, source_path, source_type, page, text, created_at, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range all {
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.DocID, c.SourcePath, c.SourceType, c.Page, c.Text, c.CreatedAt, c.Hash); err != nil {
				return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// embedAll embeds chunks in batches. A failing batch falls back to
// per-text embedding so one bad input does not sink the whole build.
func (ix *Index) embedAll(ctx context.Context, all []chunks.Chunk) error {
	for start := 0; start < len(all); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			slog.Warn("index: batch embedding failed, retrying per text",
				"batch_start", start, "error", err)
			vecs = make([][]float32, len(texts))
			for i, text := range texts {
				single, err := ix.embedder.Embed(ctx, []string{text})
				if err != nil || len(single) == 0 {
					return fmt.Errorf("embedding chunk %s: %w", batch[i].ID, err)
				}
				vecs[i] = single[0]
			}
		}

		for i, c := range batch {
			if len(vecs[i]) != ix.embeddingDim {
				return fmt.Errorf("%w: chunk %s got %d dims", ErrDimensionMismatch, c.ID, len(vecs[i]))
			}
			if _, err := ix.db.ExecContext(ctx, `
				INSERT INTO vec_chunks (chunk_id, embedding)
				SELECT id, ? FROM chunks WHERE chunk_id = ?
			`, serializeFloat32(vecs[i]), c.ID); err != nil {
				return fmt.Errorf("inserting embedding for %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

// KNN embeds the query and returns the k nearest chunks with similarity
// scores (1 - cosine distance).
func (ix *Index) KNN(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT v.distance, c.chunk_id, c.doc_id, c.source_path, c.source_type, c.page, c.text, c.created_at, c.hash
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(vecs[0]), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var r ScoredChunk
		var distance float64
		if err := rows.Scan(&distance, &r.Chunk.ID, &r.Chunk.DocID, &r.Chunk.SourcePath,
			&r.Chunk.SourceType, &r.Chunk.Page, &r.Chunk.Text, &r.Chunk.CreatedAt, &r.Chunk.Hash); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// Keyword performs a BM25 full-text search and returns the top chunks.
// No native score is exposed; callers rank by position.
func (ix *Index) Keyword(ctx context.Context, query string, k int) ([]chunks.Chunk, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.source_path, c.source_type, c.page, c.text, c.created_at, c.hash
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []chunks.Chunk
	for rows.Next() {
		var c chunks.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.SourcePath, &c.SourceType,
			&c.Page, &c.Text, &c.CreatedAt, &c.Hash); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// ChunkCount returns the number of indexed chunks.
func (ix *Index) ChunkCount(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// ftsQuery turns free text into a safe FTS5 OR-query of quoted terms.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// --- helpers ---

func (ix *Index) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
