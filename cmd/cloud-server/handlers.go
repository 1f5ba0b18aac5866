package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/temosalmi/wattson/evalqueue"
	"github.com/temosalmi/wattson/feedback"
	"github.com/temosalmi/wattson/rag"
	"github.com/temosalmi/wattson/trace"
)

type handler struct {
	chain    *rag.Chain
	queue    *evalqueue.Queue
	feedback *feedback.Store
	sink     trace.Sink
	model    string
}

func newHandler(chain *rag.Chain, queue *evalqueue.Queue, store *feedback.Store, sink trace.Sink, model string) *handler {
	return &handler{chain: chain, queue: queue, feedback: store, sink: sink, model: model}
}

// POST /api/rag/answer
func (h *handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question      string `json:"question"`
		InteractionID string `json:"interactionId"`
		TopK          int    `json:"topK,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.InteractionID == "" {
		writeError(w, http.StatusBadRequest, "interactionId is required")
		return
	}
	if req.TopK < 0 || req.TopK > 20 {
		req.TopK = 0 // use default
	}

	h.sink.Start(ctx, req.InteractionID, req.Question)
	start := time.Now()

	answer, err := h.chain.Answer(ctx, req.Question, req.InteractionID, req.TopK)

	tel := trace.Telemetry{
		LatencyMS: time.Since(start).Milliseconds(),
		Model:     h.model,
	}
	if answer != nil {
		tel.RetrievedK = len(answer.Context)
		tel.JSONValid = answer.JSONValid
	}

	if err != nil {
		tel.HTTPStatus = http.StatusInternalServerError
		h.sink.Update(ctx, req.InteractionID, tel)
		slog.Error("answer error", "interaction_id", req.InteractionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "failed to generate an answer",
			"type":    "error",
			"detail":  err.Error(),
		})
		return
	}

	tel.HTTPStatus = http.StatusOK
	h.sink.Update(ctx, req.InteractionID, tel)
	h.enqueueForEval(ctx, req.InteractionID, req.Question, answer)

	writeJSON(w, http.StatusOK, answer.Response)
}

// enqueueForEval records the interaction for the nightly judge run.
// Failures are logged and swallowed; evaluation never blocks answers.
func (h *handler) enqueueForEval(ctx context.Context, interactionID, question string, answer *rag.Answer) {
	contextItems := answer.Context
	if len(contextItems) > 3 {
		contextItems = contextItems[:3]
	}
	contextJSON, err := json.Marshal(contextItems)
	if err != nil {
		contextJSON = []byte("[]")
	}
	if err := h.queue.Enqueue(ctx, interactionID, question, answer.Response.Message, string(contextJSON)); err != nil {
		slog.Warn("eval enqueue failed", "interaction_id", interactionID, "error", err)
	}
}

// POST /api/feedback/sync
func (h *handler) handleFeedbackSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []feedback.Entry `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.feedback.Upsert(r.Context(), req.Items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "feedback sync failed")
		slog.Error("feedback sync error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
