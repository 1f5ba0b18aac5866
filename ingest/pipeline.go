package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/temosalmi/wattson/chunks"
)

// Pipeline performs manifest-driven incremental ingestion: it enumerates
// the seed directory, re-chunks only files whose content hash or splitter
// config changed, and rewrites chunks.jsonl plus manifest.json.
type Pipeline struct {
	store        *chunks.Store
	manifestPath string
	splitter     SplitterConfig
}

// Result summarizes one ingestion run.
type Result struct {
	FilesSeen    int `json:"files_seen"`
	FilesChanged int `json:"files_changed"`
	FilesDeleted int `json:"files_deleted"`
	FilesFailed  int `json:"files_failed"`
	ChunksTotal  int `json:"chunks_total"`
}

// NewPipeline wires a Pipeline over the given chunk store and manifest
// location.
func NewPipeline(store *chunks.Store, manifestPath string, splitter SplitterConfig) *Pipeline {
	return &Pipeline{store: store, manifestPath: manifestPath, splitter: splitter}
}

// Run ingests the immediate children of inputDir with extension pdf, txt
// or md. Non-recursive. Loader failures are logged and skipped; the
// manifest is only updated for files that contributed successfully.
func (p *Pipeline) Run(ctx context.Context, inputDir string) (*Result, error) {
	manifest, err := LoadManifest(p.manifestPath, p.splitter)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("reading input dir: %w", err)
	}

	type sourceFile struct {
		relPath string
		absPath string
		hash    string
	}

	var sources []sourceFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pdf", ".txt", ".md":
		default:
			continue
		}
		abs := filepath.Join(inputDir, e.Name())
		hash, err := fileHash(abs)
		if err != nil {
			slog.Warn("ingest: hashing failed, skipping file", "path", abs, "error", err)
			continue
		}
		sources = append(sources, sourceFile{relPath: e.Name(), absPath: abs, hash: hash})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].relPath < sources[j].relPath })

	configChanged := manifest.Config.ConfigFingerprint != p.splitter.Fingerprint()
	if configChanged {
		slog.Info("ingest: splitter config changed, re-chunking all files",
			"fingerprint", p.splitter.Fingerprint())
	}

	present := make(map[string]bool, len(sources))
	changed := make(map[string]bool)
	for _, src := range sources {
		present[src.relPath] = true
		prev, known := manifest.Files[src.relPath]
		if configChanged || !known || prev.ContentHash != src.hash {
			changed[src.relPath] = true
		}
	}

	var deleted []string
	for rel := range manifest.Files {
		if !present[rel] {
			deleted = append(deleted, rel)
		}
	}

	// Preserve records of unchanged files from the existing JSONL. A file
	// may appear under its absolute or its relative path in prior runs;
	// both forms are recognized.
	existing, err := p.store.ReadAll()
	if err != nil {
		return nil, err
	}
	keepPaths := make(map[string]bool)
	for _, src := range sources {
		if !changed[src.relPath] {
			keepPaths[src.relPath] = true
			keepPaths[src.absPath] = true
		}
	}

	var merged []chunks.Chunk
	for _, c := range existing {
		if keepPaths[c.SourcePath] {
			merged = append(merged, c)
		}
	}

	res := &Result{FilesSeen: len(sources), FilesDeleted: len(deleted)}
	now := time.Now().UTC().Format(time.RFC3339)

	for _, src := range sources {
		if !changed[src.relPath] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := loadFile(src.absPath)
		if err != nil {
			slog.Warn("ingest: loader failed, skipping file", "path", src.absPath, "error", err)
			res.FilesFailed++
			continue
		}

		docID := chunks.NormalizeDocID(src.relPath)
		var fileChunks []chunks.Chunk
		idx := 0
		for _, rec := range records {
			for _, window := range p.splitter.Window(SplitSentences(rec.Text)) {
				fileChunks = append(fileChunks, chunks.Chunk{
					ID:         fmt.Sprintf("%s#%d", docID, idx),
					DocID:      docID,
					SourcePath: src.relPath,
					SourceType: sourceType(src.relPath),
					Page:       rec.Page,
					Text:       window,
					CreatedAt:  now,
					Hash:       chunks.HashText(window),
				})
				idx++
			}
		}

		merged = append(merged, fileChunks...)
		manifest.Files[src.relPath] = ManifestEntry{
			DocID:       docID,
			ContentHash: src.hash,
			ChunksCount: len(fileChunks),
			UpdatedAt:   now,
		}
		res.FilesChanged++
		slog.Info("ingest: file chunked", "path", src.relPath, "chunks", len(fileChunks))
	}

	for _, rel := range deleted {
		delete(manifest.Files, rel)
	}

	if err := p.store.WriteAll(merged); err != nil {
		return nil, err
	}

	manifest.SchemaVersion = manifestSchemaVersion
	manifest.Config = ManifestConfig{
		Splitter:          p.splitter,
		ConfigFingerprint: p.splitter.Fingerprint(),
	}
	if err := manifest.Save(p.manifestPath); err != nil {
		return nil, err
	}

	res.ChunksTotal = len(merged)
	slog.Info("ingest: run complete",
		"files", res.FilesSeen,
		"changed", res.FilesChanged,
		"deleted", res.FilesDeleted,
		"failed", res.FilesFailed,
		"chunks", res.ChunksTotal,
	)
	return res, nil
}

// fileHash computes the hex SHA-256 of a file's contents.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
