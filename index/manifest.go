package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Sentinel errors surfaced by Load. Boot code treats both as fatal.
var (
	// ErrIndexNotFound is returned when the index files are missing.
	ErrIndexNotFound = errors.New("index: not found, run the seed command first")

	// ErrDimensionMismatch is returned when the persisted embedding
	// dimension does not match the current embedding model.
	ErrDimensionMismatch = errors.New("index: embedding dimension mismatch, reseed with the current model")
)

// Manifest describes a built index: the embedding model and dimension it
// was produced with, and when.
type Manifest struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Chunks    int    `json:"chunks"`
	BuiltAt   string `json:"built_at"`
}

// LoadManifest reads the index manifest. A missing file maps to
// ErrIndexNotFound.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("reading index manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing index manifest: %w", err)
	}
	if m.Dimension <= 0 {
		return nil, fmt.Errorf("index manifest has invalid dimension %d", m.Dimension)
	}
	return &m, nil
}

// Save writes the manifest.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index manifest: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
