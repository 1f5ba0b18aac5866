package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Label classifies edge feedback.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
)

// Record is one feedback event captured on the edge device.
type Record struct {
	FeedbackID    string `json:"feedback_id"`
	InteractionID string `json:"interactionId"`
	Label         Label  `json:"label"`
	Comment       string `json:"comment,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Stats summarizes locally collected feedback.
type Stats struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Total    int `json:"total"`
}

// Manager appends feedback to per-label JSON files under dataDir. Reads
// tolerate missing or corrupt files.
type Manager struct {
	dataDir string
	mu      sync.Mutex
}

// NewManager creates the data directory if needed.
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("feedback: create data dir: %w", err)
	}
	return &Manager{dataDir: dataDir}, nil
}

func (m *Manager) fileFor(label Label) string {
	return filepath.Join(m.dataDir, string(label)+"_feedback.json")
}

// Record appends one feedback event for an interaction and returns its
// deterministic feedback id.
func (m *Manager) Record(label Label, interactionID, comment string) (string, error) {
	if label != LabelPositive && label != LabelNegative {
		return "", fmt.Errorf("feedback: unknown label %q", label)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt := time.Now().UTC().Format(time.RFC3339)
	id := FeedbackID(interactionID, createdAt)
	path := m.fileFor(label)
	records := readRecords(path)
	records = append(records, Record{
		FeedbackID:    id,
		InteractionID: interactionID,
		Label:         label,
		Comment:       comment,
		CreatedAt:     createdAt,
	})
	if err := writeRecords(path, records); err != nil {
		return "", err
	}
	return id, nil
}

// All returns every locally stored feedback record, positive first.
func (m *Manager) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := readRecords(m.fileFor(LabelPositive))
	return append(out, readRecords(m.fileFor(LabelNegative))...)
}

// Stats counts stored records per label.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := len(readRecords(m.fileFor(LabelPositive)))
	neg := len(readRecords(m.fileFor(LabelNegative)))
	return Stats{Positive: pos, Negative: neg, Total: pos + neg}
}

// CountFor returns the number of stored records for one label.
func (m *Manager) CountFor(label Label) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(readRecords(m.fileFor(label)))
}

func readRecords(path string) []Record {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

func writeRecords(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("feedback: marshal records: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("feedback: write records: %w", err)
	}
	return os.Rename(tmp, path)
}
