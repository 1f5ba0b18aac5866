package feedback

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const syncTimeout = 5 * time.Second

// SyncResult reports one sync attempt.
type SyncResult struct {
	Sent       int `json:"sent"`
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Syncer pushes locally collected feedback to the cloud endpoint. A
// checkpoint file records the created_at of the newest record the cloud
// has acknowledged, so retries never re-send acknowledged items and a
// failed push re-sends everything after the old checkpoint.
type Syncer struct {
	manager        *Manager
	endpoint       string
	checkpointPath string
	client         *http.Client
}

// NewSyncer wires a Syncer. endpoint is the cloud /api/feedback/sync URL.
func NewSyncer(manager *Manager, endpoint, checkpointPath string) *Syncer {
	return &Syncer{
		manager:        manager,
		endpoint:       endpoint,
		checkpointPath: checkpointPath,
		client:         &http.Client{Timeout: syncTimeout},
	}
}

// FeedbackID derives the stable idempotency key for one record.
func FeedbackID(interactionID, createdAt string) string {
	sum := sha256.Sum256([]byte(interactionID + ":" + createdAt))
	return hex.EncodeToString(sum[:])[:32]
}

// scoreFor maps a label to its numeric score.
func scoreFor(label Label) int {
	if label == LabelNegative {
		return -1
	}
	return 1
}

// Sync sends all records newer than the checkpoint. The checkpoint only
// advances on a 200 response.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	checkpoint := s.loadCheckpoint()

	all := s.manager.All()
	var entries []Entry
	maxCreatedAt := checkpoint
	skipped := 0
	for _, r := range all {
		if checkpoint != "" && r.CreatedAt <= checkpoint {
			skipped++
			continue
		}
		id := r.FeedbackID
		if id == "" {
			id = FeedbackID(r.InteractionID, r.CreatedAt)
		}
		entries = append(entries, Entry{
			FeedbackID:    id,
			InteractionID: r.InteractionID,
			Score:         scoreFor(r.Label),
			Comment:       r.Comment,
			CreatedAt:     r.CreatedAt,
		})
		if r.CreatedAt > maxCreatedAt {
			maxCreatedAt = r.CreatedAt
		}
	}

	res := &SyncResult{Sent: len(entries), Skipped: skipped}
	if len(entries) == 0 {
		return res, nil
	}

	body, err := json.Marshal(map[string]any{"items": entries})
	if err != nil {
		return nil, fmt.Errorf("feedback: marshal sync batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("feedback: build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedback: sync request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feedback: sync rejected with status %d", resp.StatusCode)
	}

	var batch BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		slog.Warn("feedback: sync response not decodable, counting all as accepted", "error", err)
		batch = BatchResult{Accepted: len(entries)}
	}
	res.Accepted = batch.Accepted
	res.Duplicates = batch.Duplicates

	if err := s.saveCheckpoint(maxCreatedAt); err != nil {
		slog.Warn("feedback: checkpoint not saved, next sync will re-send", "error", err)
	}
	return res, nil
}

func (s *Syncer) loadCheckpoint() string {
	data, err := os.ReadFile(s.checkpointPath)
	if err != nil {
		return ""
	}
	var cp struct {
		LastSyncedAt string `json:"last_synced_at"`
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return ""
	}
	return cp.LastSyncedAt
}

func (s *Syncer) saveCheckpoint(createdAt string) error {
	data, err := json.Marshal(map[string]string{"last_synced_at": createdAt})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.checkpointPath), 0o755); err != nil {
		return err
	}
	tmp := s.checkpointPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.checkpointPath)
}
