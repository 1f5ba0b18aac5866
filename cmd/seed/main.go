// Command seed chunks the seed corpus and builds the vector index the
// cloud server queries.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/temosalmi/wattson"
	"github.com/temosalmi/wattson/chunks"
	"github.com/temosalmi/wattson/index"
	"github.com/temosalmi/wattson/ingest"
	"github.com/temosalmi/wattson/llm"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	inputDir := flag.String("input", "", "Seed data directory (overrides config)")
	skipIndex := flag.Bool("skip-index", false, "Only chunk, skip embedding and index build")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := wattson.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	dir := cfg.Paths.SeedDataDir
	if *inputDir != "" {
		dir = *inputDir
	}
	if dir == "" {
		slog.Error("no seed data directory configured")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Paths.IndexDir, 0o755); err != nil {
		slog.Error("creating index dir", "error", err)
		os.Exit(1)
	}

	store := chunks.NewStore(filepath.Join(cfg.Paths.IndexDir, "chunks.jsonl"))
	pipeline := ingest.NewPipeline(store,
		filepath.Join(cfg.Paths.IndexDir, "manifest.json"),
		ingest.DefaultSplitterConfig())

	ctx := context.Background()
	result, err := pipeline.Run(ctx, dir)
	if err != nil {
		slog.Error("chunking failed", "error", err)
		os.Exit(1)
	}
	slog.Info("chunking finished",
		"files_seen", result.FilesSeen,
		"files_changed", result.FilesChanged,
		"files_deleted", result.FilesDeleted,
		"files_failed", result.FilesFailed,
		"chunks_total", result.ChunksTotal)

	if *skipIndex {
		return
	}

	embedder, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		APIKey:   cfg.Embeddings.APIKey,
	})
	if err != nil {
		slog.Error("creating embedding provider", "error", err)
		os.Exit(1)
	}

	all, err := store.ReadAll()
	if err != nil {
		slog.Error("reading chunks", "error", err)
		os.Exit(1)
	}
	if len(all) == 0 {
		slog.Error("no chunks to index", "input", dir)
		os.Exit(1)
	}

	ix, err := index.Build(ctx, cfg.Paths.IndexDir, all, embedder, cfg.Embeddings.Model)
	if err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
	defer ix.Close()

	n, err := ix.ChunkCount(ctx)
	if err != nil {
		slog.Error("verifying index", "error", err)
		os.Exit(1)
	}
	slog.Info("index built", "dir", cfg.Paths.IndexDir, "chunks", n, "model", cfg.Embeddings.Model)
}
