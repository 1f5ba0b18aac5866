// Package ingest turns source documents into sentence-window chunks and
// maintains the manifest that drives incremental rebuilds.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/temosalmi/wattson/chunks"
)

// SplitterConfig controls sentence windowing. Changing either value
// changes the config fingerprint and forces a full re-chunk.
type SplitterConfig struct {
	SentWindowSize    int `json:"sent_window_size"`
	SentWindowOverlap int `json:"sent_window_overlap"`
}

// DefaultSplitterConfig matches the corpus defaults: windows of 10
// sentences with an overlap of 2.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{SentWindowSize: 10, SentWindowOverlap: 2}
}

// Fingerprint returns the SHA-256 of the splitter configuration. Stored
// in the manifest so config changes invalidate every file.
func (c SplitterConfig) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", c.SentWindowSize, c.SentWindowOverlap)))
	return hex.EncodeToString(sum[:])
}

// SplitSentences normalizes whitespace and splits on sentence-final
// punctuation (. ! ?) followed by whitespace. The punctuation stays with
// the preceding sentence.
func SplitSentences(text string) []string {
	norm := chunks.Normalize(text)
	if norm == "" {
		return nil
	}

	var out []string
	var b strings.Builder
	runes := []rune(norm)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && runes[i+1] == ' ' {
			s := strings.TrimSpace(b.String())
			if s != "" {
				out = append(out, s)
			}
			b.Reset()
			i++ // consume the separating space
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// Window groups sentences into overlapping windows. Stride is
// max(1, size-overlap); each window is the sentences joined with single
// spaces and normalized. Empty windows are dropped.
func (c SplitterConfig) Window(sentences []string) []string {
	size := c.SentWindowSize
	if size < 1 {
		size = 1
	}
	stride := size - c.SentWindowOverlap
	if stride < 1 {
		stride = 1
	}

	var out []string
	for start := 0; start < len(sentences); start += stride {
		end := start + size
		if end > len(sentences) {
			end = len(sentences)
		}
		w := chunks.Normalize(strings.Join(sentences[start:end], " "))
		if w != "" {
			out = append(out, w)
		}
		if end == len(sentences) {
			break
		}
	}
	return out
}
