package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Record is one loaded text unit with optional page provenance. Text and
// markdown files load as a single record; PDFs load one record per page
// on the fallback path.
type Record struct {
	Text string
	Page int // 0 when the source has no page structure
}

// loadFile reads one source file into records. The extension decides the
// loader; callers have already filtered to supported extensions.
func loadFile(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".txt", ".md":
		return loadText(path)
	default:
		return nil, fmt.Errorf("unsupported extension: %s", path)
	}
}

// loadPDF prefers whole-document extraction, which preserves reading
// order across page boundaries. When that fails it falls back to
// per-page extraction and skips pages that cannot be read.
func loadPDF(path string) ([]Record, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	if r, err := reader.GetPlainText(); err == nil {
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err == nil {
			if text := strings.TrimSpace(buf.String()); text != "" {
				return []Record{{Text: text}}, nil
			}
		}
	}

	var records []Record
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		records = append(records, Record{Text: text, Page: i})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return records, nil
}

// loadText reads a UTF-8 text or markdown file as a single record.
func loadText(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return []Record{{Text: string(data)}}, nil
}

// sourceType maps a file extension to the chunk source_type value.
func sourceType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".md":
		return "md"
	default:
		return "txt"
	}
}
