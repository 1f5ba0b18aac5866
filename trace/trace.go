// Package trace records interaction lifecycle events. Sinks are
// best-effort: a failing sink must never fail the request it observes.
package trace

import (
	"context"
	"log/slog"
	"time"
)

// Telemetry captures the measurable outcome of one answered question.
type Telemetry struct {
	LatencyMS  int64  `json:"latency_ms"`
	Model      string `json:"model"`
	RetrievedK int    `json:"retrieved_k"`
	JSONValid  bool   `json:"json_valid"`
	HTTPStatus int    `json:"http_status"`
}

// Sink receives lifecycle events for an interaction.
type Sink interface {
	// Start marks the beginning of work on an interaction.
	Start(ctx context.Context, interactionID, question string)
	// Update records the outcome once an answer (or failure) exists.
	Update(ctx context.Context, interactionID string, tel Telemetry)
	// Score attaches an offline evaluation score to an interaction.
	Score(ctx context.Context, interactionID string, relevance float64)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Start(context.Context, string, string)     {}
func (NopSink) Update(context.Context, string, Telemetry) {}
func (NopSink) Score(context.Context, string, float64)    {}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Start(ctx context.Context, interactionID, question string) {
	slog.Info("trace: interaction started",
		"interaction_id", interactionID,
		"question_len", len(question),
		"at", time.Now().UTC().Format(time.RFC3339))
}

func (LogSink) Update(ctx context.Context, interactionID string, tel Telemetry) {
	slog.Info("trace: interaction finished",
		"interaction_id", interactionID,
		"latency_ms", tel.LatencyMS,
		"model", tel.Model,
		"retrieved_k", tel.RetrievedK,
		"json_valid", tel.JSONValid,
		"http_status", tel.HTTPStatus)
}

func (LogSink) Score(ctx context.Context, interactionID string, relevance float64) {
	slog.Info("trace: interaction scored",
		"interaction_id", interactionID,
		"relevance", relevance)
}
