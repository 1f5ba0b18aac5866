package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/temosalmi/wattson"
	"github.com/temosalmi/wattson/classify"
	"github.com/temosalmi/wattson/digest"
	"github.com/temosalmi/wattson/feedback"
	"github.com/temosalmi/wattson/integrator"
	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/middleware"
	"github.com/temosalmi/wattson/pipeline"
	"github.com/temosalmi/wattson/schedule"
	"github.com/temosalmi/wattson/schema"
	"github.com/temosalmi/wattson/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
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

	provider, err := llm.NewProvider(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
	})
	if err != nil {
		slog.Error("creating provider", "error", err)
		os.Exit(1)
	}

	sessions, err := session.NewManager(cfg.Paths.UserDataDir)
	if err != nil {
		slog.Error("creating session manager", "error", err)
		os.Exit(1)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		slog.Error("compiling response schema", "error", err)
		os.Exit(1)
	}

	classifier := classify.NewClassifier(provider, cfg.LLM.ModelFor("classification"),
		cfg.Paths.PromptPath("classification_prompt.txt"),
		cfg.Paths.PromptPath("other_queries_response.txt"))

	devices := integrator.NewMock()
	deviceControl := pipeline.NewDeviceControl(provider, cfg.LLM.ModelFor("device_control"),
		devices, cfg.Paths.PromptPath("device_control_prompt.txt"))

	var cloudURL string
	if cfg.Features.EnergyEfficiencyRAGEnabled {
		cloudURL = cfg.CloudRAG.BaseURL
	}
	energyEfficiency := pipeline.NewEnergyEfficiency(cloudURL,
		time.Duration(cfg.CloudRAG.TimeoutS*float64(time.Second)),
		provider, cfg.LLM.ModelFor("energy_efficiency"), validator,
		cfg.Retrieval.DefaultTopK)

	orchestrator := wattson.NewOrchestrator(classifier, sessions, deviceControl, energyEfficiency)

	feedbackManager, err := feedback.NewManager(cfg.Paths.UserDataDir)
	if err != nil {
		slog.Error("creating feedback manager", "error", err)
		os.Exit(1)
	}

	tracker := digest.NewTracker(cfg.Paths.UserDataDir)
	h := newHandler(orchestrator, sessions, feedbackManager, tracker, devices)

	// Nightly feedback sync towards the cloud tier.
	if cfg.CloudRAG.BaseURL != "" {
		syncer := feedback.NewSyncer(feedbackManager,
			cfg.CloudRAG.BaseURL+"/api/feedback/sync",
			filepath.Join(cfg.Paths.UserDataDir, "feedback_sync_state.json"))
		syncCtx, cancelSync := context.WithCancel(context.Background())
		defer cancelSync()
		go schedule.NewDaily(2, 0, schedule.Job{
			Name: "feedback_sync",
			Run: func(ctx context.Context) error {
				res, err := syncer.Sync(ctx)
				if err != nil {
					return err
				}
				slog.Info("feedback sync finished",
					"sent", res.Sent, "accepted", res.Accepted,
					"duplicates", res.Duplicates, "skipped", res.Skipped)
				return nil
			},
		}).Start(syncCtx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/prompt", h.handlePrompt)
	mux.HandleFunc("POST /api/reset", h.handleReset)
	mux.HandleFunc("POST /api/context", h.handleContext)
	mux.HandleFunc("POST /api/feedback/positive", h.handleFeedbackPositive)
	mux.HandleFunc("POST /api/feedback/negative", h.handleFeedbackNegative)
	mux.HandleFunc("GET /api/feedback/positive/stats", h.handleFeedbackPositiveStats)
	mux.HandleFunc("GET /api/feedback/negative/stats", h.handleFeedbackNegativeStats)
	mux.HandleFunc("GET /api/feedback/stats", h.handleFeedbackStats)
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
		slog.Info("edge server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
