// Package evalqueue persists answered interactions for offline
// relevance evaluation by an LLM judge.
package evalqueue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	interaction_id TEXT NOT NULL UNIQUE,
	question       TEXT NOT NULL,
	answer         TEXT NOT NULL,
	context_json   TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	processed_at   TEXT,
	relevance      REAL
);
CREATE INDEX IF NOT EXISTS idx_evaluations_pending ON evaluations(processed_at) WHERE processed_at IS NULL;
`

// Item is one queued interaction awaiting evaluation.
type Item struct {
	ID            int64
	InteractionID string
	Question      string
	Answer        string
	ContextJSON   string
	CreatedAt     time.Time
}

// Queue is a durable SQLite-backed evaluation queue.
type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at path.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("evalqueue: open db: %w", err)
	}
	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("evalqueue: create schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue records an interaction for later evaluation. Re-enqueueing
// the same interaction id is a silent no-op.
func (q *Queue) Enqueue(ctx context.Context, interactionID, question, answer, contextJSON string) error {
	if contextJSON == "" {
		contextJSON = "[]"
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO evaluations (interaction_id, question, answer, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		interactionID, question, answer, contextJSON, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("evalqueue: enqueue: %w", err)
	}
	return nil
}

// Pending returns up to limit unprocessed items in insertion order.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, interaction_id, question, answer, context_json, created_at
		 FROM evaluations WHERE processed_at IS NULL ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("evalqueue: query pending: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var createdAt string
		if err := rows.Scan(&it.ID, &it.InteractionID, &it.Question, &it.Answer, &it.ContextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("evalqueue: scan: %w", err)
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkProcessed stamps items as evaluated and stores their scores in
// one statement per batch.
func (q *Queue) MarkProcessed(ctx context.Context, scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("evalqueue: begin tx: %w", err)
	}
	defer tx.Rollback()

	for id, score := range scores {
		if _, err := tx.ExecContext(ctx,
			`UPDATE evaluations SET relevance = ? WHERE id = ?`, score, id); err != nil {
			return fmt.Errorf("evalqueue: store score: %w", err)
		}
	}

	ids := make([]string, 0, len(scores))
	args := make([]any, 0, len(scores)+1)
	args = append(args, now)
	for id := range scores {
		ids = append(ids, "?")
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE evaluations SET processed_at = ? WHERE id IN (`+strings.Join(ids, ",")+`)`, args...); err != nil {
		return fmt.Errorf("evalqueue: mark processed: %w", err)
	}
	return tx.Commit()
}

// PendingCount reports the queue backlog.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE processed_at IS NULL`).Scan(&n)
	return n, err
}
