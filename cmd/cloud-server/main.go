package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/temosalmi/wattson"
	"github.com/temosalmi/wattson/evalqueue"
	"github.com/temosalmi/wattson/feedback"
	"github.com/temosalmi/wattson/index"
	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/middleware"
	"github.com/temosalmi/wattson/rag"
	"github.com/temosalmi/wattson/retrieval"
	"github.com/temosalmi/wattson/schedule"
	"github.com/temosalmi/wattson/schema"
	"github.com/temosalmi/wattson/trace"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8090", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := wattson.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	chatProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
	})
	if err != nil {
		slog.Error("creating chat provider", "error", err)
		os.Exit(1)
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

	ctx := context.Background()
	ix, err := index.Load(ctx, cfg.Paths.IndexDir, embedder)
	if err != nil {
		if errors.Is(err, index.ErrIndexNotFound) {
			slog.Error("index not found, run the seed command first", "dir", cfg.Paths.IndexDir)
		} else {
			slog.Error("loading index", "error", err)
		}
		os.Exit(1)
	}
	defer ix.Close()

	// The FTS table lives in the index database, so the lexical side is
	// available whenever the index loads.
	var keyword retrieval.KeywordSearcher = ix

	var judge llm.Provider
	if cfg.Rerank.Enabled {
		judge = chatProvider
	}
	engine := retrieval.NewEngine(retrieval.Config{
		Mode:      cfg.Retrieval.Mode,
		SemanticK: cfg.Retrieval.SemanticK,
		KeywordK:  cfg.Retrieval.KeywordK,
		FinalTopK: cfg.Retrieval.DefaultTopK,
		Alpha:     cfg.Retrieval.Fusion.Alpha,
		Rerank: retrieval.RerankConfig{
			Enabled:      cfg.Rerank.Enabled,
			TopN:         cfg.Rerank.TopN,
			TimeoutMS:    cfg.Rerank.TimeoutMS,
			PreviewChars: cfg.Rerank.PreviewChars,
			BatchSize:    cfg.Rerank.BatchSize,
		},
	}, ix, keyword, judge, cfg.LLM.Model)

	validator, err := schema.NewValidator()
	if err != nil {
		slog.Error("compiling response schema", "error", err)
		os.Exit(1)
	}

	chain := rag.NewChain(chatProvider, cfg.LLM.ModelFor("energy_efficiency"), engine, validator,
		cfg.Paths.PromptPath("rag_system_prompt.txt"),
		cfg.Retrieval.AllowGeneralKnowledge, cfg.Retrieval.DefaultTopK)

	queue, err := evalqueue.Open(filepath.Join(filepath.Dir(cfg.Paths.DBPath), "eval_queue.db"))
	if err != nil {
		slog.Error("opening eval queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	feedbackStore, err := feedback.OpenStore(filepath.Join(filepath.Dir(cfg.Paths.DBPath), "feedback.db"))
	if err != nil {
		slog.Error("opening feedback store", "error", err)
		os.Exit(1)
	}
	defer feedbackStore.Close()

	sink := trace.LogSink{}
	h := newHandler(chain, queue, feedbackStore, sink, cfg.LLM.ModelFor("energy_efficiency"))

	// Nightly evaluation run at 02:00 local time.
	processor := evalqueue.NewProcessor(queue, chatProvider, cfg.LLM.ModelFor("energy_efficiency"), sink, 0)
	evalCtx, cancelEval := context.WithCancel(ctx)
	defer cancelEval()
	go schedule.NewDaily(2, 0, schedule.Job{
		Name: "eval_queue",
		Run: func(ctx context.Context) error {
			summary, err := processor.Run(ctx)
			if err != nil {
				return err
			}
			slog.Info("eval run finished",
				"processed", summary.Processed,
				"mean_relevance", summary.MeanRelevance,
				"failures", summary.Failures)
			return nil
		},
	}).Start(evalCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rag/answer", h.handleAnswer)
	mux.HandleFunc("POST /api/feedback/sync", h.handleFeedbackSync)
	mux.HandleFunc("GET /health", h.handleHealth)

	apiKey := os.Getenv("WATTSON_API_KEY")
	corsOrigins := os.Getenv("WATTSON_CORS_ORIGINS")

	handler := middleware.Chain(mux,
		middleware.Recovery(),
		middleware.CORS(corsOrigins),
		middleware.Auth(apiKey),
		middleware.Logging(),
	)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("cloud server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
