package chunks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store reads and writes the canonical chunks.jsonl file. Writers rewrite
// the whole file atomically; readers stream line by line and skip
// malformed or text-less records with a warning.
type Store struct {
	path string
}

// NewStore returns a Store for the given JSONL path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the JSONL location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the JSONL file is present on disk.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// ReadAll streams every valid chunk record from the JSONL. Missing file
// yields an empty slice without error so callers can treat a fresh
// deployment like an empty corpus.
func (s *Store) ReadAll() ([]Chunk, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening chunk store: %w", err)
	}
	defer f.Close()

	var out []Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			slog.Warn("chunks: skipping malformed line", "path", s.path, "line", line, "error", err)
			continue
		}
		if c.Text == "" {
			slog.Warn("chunks: skipping record without text", "path", s.path, "line", line, "id", c.ID)
			continue
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk store: %w", err)
	}
	return out, nil
}

// WriteAll rewrites the JSONL atomically: write to a temp file in the
// same directory, then rename over the stable path.
func (s *Store) WriteAll(all []Chunk) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating chunk store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chunks-*.jsonl")
	if err != nil {
		return fmt.Errorf("creating temp chunk file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, c := range all {
		if err := enc.Encode(c); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding chunk %s: %w", c.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing chunk store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp chunk file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing chunk store: %w", err)
	}
	return nil
}
