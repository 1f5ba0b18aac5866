// Package feedback collects user feedback on assistant answers at the
// edge and syncs it to the cloud tier for aggregation.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS feedback (
	feedback_id    TEXT PRIMARY KEY,
	interaction_id TEXT NOT NULL,
	score          INTEGER NOT NULL,
	comment        TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	received_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_interaction ON feedback(interaction_id);
`

// Entry is one normalized feedback record as stored in the cloud.
type Entry struct {
	FeedbackID    string `json:"feedback_id"`
	InteractionID string `json:"interaction_id"`
	Score         int    `json:"score"`
	Comment       string `json:"comment,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// BatchResult reports how an upsert batch was absorbed.
type BatchResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Store is the cloud-side durable feedback store. The feedback_id
// primary key makes batch ingestion idempotent.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the feedback database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("feedback: open db: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("feedback: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert absorbs a batch in one transaction, counting new rows and
// already-seen feedback ids separately.
func (s *Store) Upsert(ctx context.Context, entries []Entry) (*BatchResult, error) {
	res := &BatchResult{}
	if len(entries) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("feedback: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		r, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO feedback (feedback_id, interaction_id, score, comment, created_at, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.FeedbackID, e.InteractionID, e.Score, e.Comment, e.CreatedAt, now)
		if err != nil {
			return nil, fmt.Errorf("feedback: insert: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("feedback: rows affected: %w", err)
		}
		if n > 0 {
			res.Accepted++
		} else {
			res.Duplicates++
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("feedback: commit: %w", err)
	}
	return res, nil
}

// Count returns the total number of stored feedback rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}
