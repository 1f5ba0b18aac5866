// Package session persists per-user conversation history as JSON files
// on the edge device.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one conversation turn.
type Message struct {
	InteractionID string `json:"interaction_id"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
}

// Manager owns the conversation files under dataDir/conversations.
// Writes to the same file are serialized; different users never block
// each other.
type Manager struct {
	dataDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates the conversations directory if needed.
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "conversations"), 0o755); err != nil {
		return nil, fmt.Errorf("session: create conversations dir: %w", err)
	}
	return &Manager{dataDir: dataDir, locks: make(map[string]*sync.Mutex)}, nil
}

// GenerateInteractionID returns a fresh unique interaction id.
func GenerateInteractionID() string {
	return uuid.NewString()
}

// UserHash derives a stable, non-reversible file prefix from an email
// address. Case differences in the address map to the same user.
func UserHash(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])[:16]
}

// activePath returns the active conversation file for a user. An empty
// email selects the legacy shared conversation file.
func (m *Manager) activePath(email string) string {
	dir := filepath.Join(m.dataDir, "conversations")
	if email == "" {
		return filepath.Join(dir, "active_conversation.json")
	}
	return filepath.Join(dir, UserHash(email)+"_active_conversation.json")
}

func (m *Manager) lockFor(path string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.Mutex{}
		m.locks[path] = l
	}
	return l
}

// LoadHistory returns the active conversation. Missing or unreadable
// files yield an empty history, never an error.
func (m *Manager) LoadHistory(email string) []Message {
	path := m.activePath(email)
	l := m.lockFor(path)
	l.Lock()
	defer l.Unlock()
	return readMessages(path)
}

// SaveMessage appends one turn to the active conversation, keyed by the
// interaction id so feedback and traces can reference it later.
func (m *Manager) SaveMessage(email, role, content, interactionID string) error {
	path := m.activePath(email)
	l := m.lockFor(path)
	l.Lock()
	defer l.Unlock()

	messages := readMessages(path)
	messages = append(messages, Message{
		InteractionID: interactionID,
		Role:          role,
		Content:       content,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	return writeMessages(path, messages)
}

// Archive moves the active conversation to a timestamped file and
// starts a fresh one. Archiving a missing or empty conversation is a
// successful no-op.
func (m *Manager) Archive(email string) error {
	path := m.activePath(email)
	l := m.lockFor(path)
	l.Lock()
	defer l.Unlock()

	messages := readMessages(path)
	if len(messages) == 0 {
		return nil
	}

	prefix := "conversation"
	if email != "" {
		prefix = UserHash(email) + "_conversation"
	}
	stamp := time.Now().Format("20060102_150405")
	archived := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_%s.json", prefix, stamp))
	if err := os.Rename(path, archived); err != nil {
		return fmt.Errorf("session: archive conversation: %w", err)
	}
	return nil
}

func readMessages(path string) []Message {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil
	}
	return messages
}

func writeMessages(path string, messages []Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal history: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write history: %w", err)
	}
	return os.Rename(tmp, path)
}
