// Package wattson is the edge orchestrator: it receives user messages,
// classifies them and dispatches to the matching pipeline, persisting
// both sides of the conversation.
package wattson

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/temosalmi/wattson/classify"
	"github.com/temosalmi/wattson/pipeline"
	"github.com/temosalmi/wattson/session"
)

// Orchestrator routes one user message end to end.
type Orchestrator struct {
	classifier *classify.Classifier
	pipelines  map[classify.Category]pipeline.Pipeline
	sessions   *session.Manager
}

// NewOrchestrator wires the orchestrator. Every supported category
// needs a pipeline; OTHER_QUERIES is answered directly.
func NewOrchestrator(classifier *classify.Classifier, sessions *session.Manager, deviceControl, energyEfficiency pipeline.Pipeline) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		sessions:   sessions,
		pipelines: map[classify.Category]pipeline.Pipeline{
			classify.CategoryDeviceControl:    deviceControl,
			classify.CategoryEnergyEfficiency: energyEfficiency,
		},
	}
}

// Request is one inbound user message with its integrator credentials.
// InteractionID is optional; a fresh id is generated when empty.
type Request struct {
	Message       string
	Token         string
	LocationID    string
	UserEmail     string
	InteractionID string
}

// Process handles one user message and returns the assistant response
// JSON. Pipeline failures produce a standardized error payload rather
// than an error; the conversation always gets an answer.
func (o *Orchestrator) Process(ctx context.Context, req Request) string {
	interactionID := req.InteractionID
	if interactionID == "" {
		interactionID = session.GenerateInteractionID()
	}
	email := req.UserEmail
	start := time.Now()

	if err := o.sessions.SaveMessage(email, "user", req.Message, interactionID); err != nil {
		slog.Warn("orchestrator: user message not persisted",
			"interaction_id", interactionID, "error", err)
	}

	category := o.classifier.Classify(ctx, req.Message)
	slog.Info("orchestrator: message classified",
		"interaction_id", interactionID, "category", category)

	var response string
	if category == classify.CategoryOther {
		response = o.classifier.RejectionResponse(interactionID)
	} else {
		history := o.sessions.LoadHistory(email)
		// Drop the user message we just appended; pipelines add it
		// themselves.
		if n := len(history); n > 0 && history[n-1].Role == "user" {
			history = history[:n-1]
		}

		p := o.pipelines[category]
		out, err := p.Process(ctx, pipeline.Request{
			Message:       req.Message,
			InteractionID: interactionID,
			Token:         req.Token,
			LocationID:    req.LocationID,
			History:       history,
		})
		if err != nil {
			slog.Error("orchestrator: pipeline failed",
				"interaction_id", interactionID, "pipeline", p.Name(), "error", err)
			response = errorResponse(interactionID)
		} else {
			response = out
		}
	}

	if err := o.sessions.SaveMessage(email, "assistant", response, interactionID); err != nil {
		slog.Warn("orchestrator: assistant message not persisted",
			"interaction_id", interactionID, "error", err)
	}

	slog.Info("orchestrator: message handled",
		"interaction_id", interactionID,
		"category", category,
		"latency_ms", time.Since(start).Milliseconds())
	return response
}

// errorResponse is the standardized failure payload shown to the user.
func errorResponse(interactionID string) string {
	data, _ := json.Marshal(map[string]any{
		"message":       "Sorry, something went wrong while handling your request. Please try again.",
		"interactionId": interactionID,
		"type":          "error",
		"content":       []any{},
	})
	return string(data)
}
