package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestSchemaVersion = 1

// Manifest records the ingestion state used to drive incremental
// rebuilds: one entry per source file keyed by relative path, plus the
// splitter config and its fingerprint.
type Manifest struct {
	SchemaVersion int                      `json:"schema_version"`
	Config        ManifestConfig           `json:"config"`
	Files         map[string]ManifestEntry `json:"files"`
}

// ManifestConfig is the splitter config snapshot stored in the manifest.
type ManifestConfig struct {
	Splitter          SplitterConfig `json:"splitter"`
	ConfigFingerprint string         `json:"config_fingerprint"`
}

// ManifestEntry is the per-file ingestion record.
type ManifestEntry struct {
	DocID       string `json:"doc_id"`
	ContentHash string `json:"content_hash"`
	ChunksCount int    `json:"chunks_count"`
	UpdatedAt   string `json:"updated_at"`
}

// NewManifest returns an empty manifest for the given splitter config.
func NewManifest(cfg SplitterConfig) *Manifest {
	return &Manifest{
		SchemaVersion: manifestSchemaVersion,
		Config: ManifestConfig{
			Splitter:          cfg,
			ConfigFingerprint: cfg.Fingerprint(),
		},
		Files: make(map[string]ManifestEntry),
	}
}

// LoadManifest reads a manifest from disk. A missing file yields an
// empty manifest for the given config, so first runs treat every source
// file as changed.
func LoadManifest(path string, cfg SplitterConfig) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(cfg), nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]ManifestEntry)
	}
	return &m, nil
}

// Save writes the manifest atomically next to the chunk store.
func (m *Manifest) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	return os.Rename(tmpPath, path)
}
