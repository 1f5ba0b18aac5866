package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/temosalmi/wattson/chunks"
)

func newTestPipeline(t *testing.T) (*Pipeline, *chunks.Store, string, string) {
	t.Helper()
	indexDir := t.TempDir()
	seedDir := t.TempDir()
	store := chunks.NewStore(filepath.Join(indexDir, "chunks.jsonl"))
	manifestPath := filepath.Join(indexDir, "manifest.json")
	p := NewPipeline(store, manifestPath, DefaultSplitterConfig())
	return p, store, manifestPath, seedDir
}

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRunProducesChunksAndManifest(t *testing.T) {
	p, store, manifestPath, seedDir := newTestPipeline(t)
	writeSeed(t, seedDir, "tipsA.md", "Unplug idle devices. Use LED bulbs. Lower your thermostat.")
	writeSeed(t, seedDir, "tipsB.txt", "Run dishwasher full. Insulate the attic. Close curtains during heat.")

	res, err := p.Run(context.Background(), seedDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilesSeen != 2 || res.FilesChanged != 2 {
		t.Errorf("result = %+v, want 2 seen and 2 changed", res)
	}

	all, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(all))
	}
	seen := make(map[string]bool)
	for _, c := range all {
		if c.DocID != "tipsa" && c.DocID != "tipsb" {
			t.Errorf("unexpected doc_id %q", c.DocID)
		}
		if seen[c.ID] {
			t.Errorf("duplicate chunk id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Hash != chunks.HashText(c.Text) {
			t.Errorf("chunk %s hash does not match text", c.ID)
		}
		if c.Text != chunks.Normalize(c.Text) {
			t.Errorf("chunk %s text is not normalized", c.ID)
		}
	}

	m, err := LoadManifest(manifestPath, DefaultSplitterConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("manifest has %d files, want 2", len(m.Files))
	}
	for rel, entry := range m.Files {
		wantHash, err := fileHash(filepath.Join(seedDir, rel))
		if err != nil {
			t.Fatal(err)
		}
		if entry.ContentHash != wantHash {
			t.Errorf("manifest hash for %s does not match file contents", rel)
		}
		if entry.ChunksCount == 0 {
			t.Errorf("manifest entry %s has zero chunks", rel)
		}
	}
	if m.Config.ConfigFingerprint != DefaultSplitterConfig().Fingerprint() {
		t.Error("manifest fingerprint does not match current splitter config")
	}
}

func TestRunIsIncremental(t *testing.T) {
	p, store, _, seedDir := newTestPipeline(t)
	writeSeed(t, seedDir, "a.txt", "First file sentence one. Sentence two.")
	writeSeed(t, seedDir, "b.txt", "Second file sentence.")

	if _, err := p.Run(context.Background(), seedDir); err != nil {
		t.Fatal(err)
	}
	before, _ := store.ReadAll()

	// Second run with nothing changed must preserve records untouched.
	res, err := p.Run(context.Background(), seedDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesChanged != 0 {
		t.Errorf("unchanged run re-chunked %d files", res.FilesChanged)
	}
	after, _ := store.ReadAll()
	if len(after) != len(before) {
		t.Fatalf("chunk count changed: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i].CreatedAt != before[i].CreatedAt {
			t.Errorf("chunk %s was rewritten on an unchanged run", after[i].ID)
		}
	}

	// Modifying one file re-chunks only that file.
	writeSeed(t, seedDir, "b.txt", "Second file updated sentence.")
	res, err = p.Run(context.Background(), seedDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesChanged != 1 {
		t.Errorf("changed run re-chunked %d files, want 1", res.FilesChanged)
	}
}

func TestRunRemovesDeletedFiles(t *testing.T) {
	p, store, manifestPath, seedDir := newTestPipeline(t)
	writeSeed(t, seedDir, "keep.txt", "Kept sentence.")
	writeSeed(t, seedDir, "gone.txt", "Doomed sentence.")
	if _, err := p.Run(context.Background(), seedDir); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(seedDir, "gone.txt")); err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), seedDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesDeleted != 1 {
		t.Errorf("FilesDeleted = %d, want 1", res.FilesDeleted)
	}

	m, _ := LoadManifest(manifestPath, DefaultSplitterConfig())
	if _, ok := m.Files["gone.txt"]; ok {
		t.Error("deleted file still present in manifest")
	}
	all, _ := store.ReadAll()
	for _, c := range all {
		if c.DocID == "gone" {
			t.Errorf("chunk %s survives its deleted source", c.ID)
		}
	}
}

func TestRunConfigChangeRechunksAll(t *testing.T) {
	indexDir := t.TempDir()
	seedDir := t.TempDir()
	store := chunks.NewStore(filepath.Join(indexDir, "chunks.jsonl"))
	manifestPath := filepath.Join(indexDir, "manifest.json")
	writeSeed(t, seedDir, "a.txt", "One. Two. Three. Four.")

	p1 := NewPipeline(store, manifestPath, SplitterConfig{SentWindowSize: 2, SentWindowOverlap: 0})
	if _, err := p1.Run(context.Background(), seedDir); err != nil {
		t.Fatal(err)
	}

	p2 := NewPipeline(store, manifestPath, SplitterConfig{SentWindowSize: 3, SentWindowOverlap: 1})
	res, err := p2.Run(context.Background(), seedDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesChanged != 1 {
		t.Errorf("config change should re-chunk the file, got %d changed", res.FilesChanged)
	}

	m, _ := LoadManifest(manifestPath, SplitterConfig{SentWindowSize: 3, SentWindowOverlap: 1})
	want := (SplitterConfig{SentWindowSize: 3, SentWindowOverlap: 1}).Fingerprint()
	if m.Config.ConfigFingerprint != want {
		t.Error("manifest fingerprint not updated after config change")
	}
}

func TestRunPreservesUnchangedAbsolutePaths(t *testing.T) {
	// Prior runs may have written absolute source paths; unchanged files
	// must still be matched and preserved.
	p, store, _, seedDir := newTestPipeline(t)
	writeSeed(t, seedDir, "a.txt", "Stable sentence.")
	if _, err := p.Run(context.Background(), seedDir); err != nil {
		t.Fatal(err)
	}

	all, _ := store.ReadAll()
	if len(all) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(all))
	}
	all[0].SourcePath = filepath.Join(seedDir, "a.txt")
	if err := store.WriteAll(all); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Run(context.Background(), seedDir); err != nil {
		t.Fatal(err)
	}
	after, _ := store.ReadAll()
	if len(after) != 1 {
		t.Fatalf("absolute-path record lost: %d chunks", len(after))
	}
}
