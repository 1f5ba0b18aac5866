// Package chunks defines the canonical chunk record and its JSONL store.
// The chunks.jsonl file written at ingestion time is the single source of
// truth for both the vector and the lexical index.
package chunks

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk is one sentence-window text unit with provenance. Immutable once
// written; (DocID, index) uniquely identifies a chunk and ID is the
// canonical key for cross-system fusion.
type Chunk struct {
	ID          string   `json:"id"` // "{doc_id}#{chunk_index}"
	DocID       string   `json:"doc_id"`
	SourcePath  string   `json:"source_path"`
	SourceType  string   `json:"source_type"` // pdf, txt, md
	Page        int      `json:"page,omitempty"`
	HeadingPath []string `json:"heading_path,omitempty"`
	Text        string   `json:"text"`
	CreatedAt   string   `json:"created_at"` // ISO-8601 UTC
	Hash        string   `json:"hash"`       // SHA-256 of Text
}

var (
	wsRe    = regexp.MustCompile(`\s+`)
	docIDRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Normalize collapses internal whitespace to single spaces and trims.
func Normalize(text string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

// NormalizeDocID derives the stable doc id from a source file path:
// the lowercased filename stem with non-alphanumeric runs replaced by
// underscores and leading/trailing underscores trimmed.
func NormalizeDocID(sourcePath string) string {
	stem := filepath.Base(sourcePath)
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	id := docIDRe.ReplaceAllString(strings.ToLower(stem), "_")
	return strings.Trim(id, "_")
}

// HashText returns the hex SHA-256 of the chunk text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
