package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/temosalmi/wattson"
	"github.com/temosalmi/wattson/digest"
	"github.com/temosalmi/wattson/feedback"
	"github.com/temosalmi/wattson/integrator"
	"github.com/temosalmi/wattson/session"
)

type handler struct {
	orchestrator *wattson.Orchestrator
	sessions     *session.Manager
	feedback     *feedback.Manager
	tracker      *digest.Tracker
	devices      integrator.Client
}

func newHandler(o *wattson.Orchestrator, sessions *session.Manager, fm *feedback.Manager, tracker *digest.Tracker, devices integrator.Client) *handler {
	return &handler{orchestrator: o, sessions: sessions, feedback: fm, tracker: tracker, devices: devices}
}

// POST /api/prompt
// Query parameters carry the request; a JSON body works as a fallback
// for clients that prefer it.
func (h *handler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	q := r.URL.Query()
	req := wattson.Request{
		Message:       q.Get("message"),
		Token:         q.Get("token"),
		LocationID:    q.Get("location_id"),
		InteractionID: q.Get("interactionId"),
		UserEmail:     q.Get("user_email"),
	}
	if req.Message == "" {
		var body struct {
			Message       string `json:"message"`
			Token         string `json:"token"`
			LocationID    string `json:"location_id"`
			InteractionID string `json:"interactionId,omitempty"`
			UserEmail     string `json:"user_email,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			req = wattson.Request{
				Message:       body.Message,
				Token:         body.Token,
				LocationID:    body.LocationID,
				InteractionID: body.InteractionID,
				UserEmail:     body.UserEmail,
			}
		}
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	response := h.orchestrator.Process(ctx, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(response))
}

// POST /api/reset
// Archives the active conversation and starts a fresh one.
func (h *handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserEmail string `json:"user_email,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.UserEmail = r.URL.Query().Get("user_email")
	}

	if err := h.sessions.Archive(req.UserEmail); err != nil {
		slog.Error("reset error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"response": "error",
			"message":  "failed to reset conversation",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response": "ok",
		"message":  "conversation reset",
	})
}

// POST /api/context
// Generates the daily digest for the user. The integrator is contacted
// first so a dead connection surfaces as 502 instead of a stale digest.
func (h *handler) handleContext(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	q := r.URL.Query()
	token := q.Get("token")
	locationID := q.Get("location_id")
	email := q.Get("user_email")
	if token == "" && locationID == "" {
		var body struct {
			Token      string `json:"token"`
			LocationID string `json:"location_id"`
			UserEmail  string `json:"user_email,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token = body.Token
			locationID = body.LocationID
			if email == "" {
				email = body.UserEmail
			}
		}
	}

	if _, err := h.devices.GetDevices(ctx, token, locationID); err != nil {
		slog.Error("context: integrator unreachable", "error", err)
		writeError(w, http.StatusBadGateway, "integrator unavailable")
		return
	}

	if !h.tracker.ShouldShow(locationID, email, time.Now()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_digest_today"})
		return
	}

	report := digest.Generate(time.Now())
	interactionID := session.GenerateInteractionID()
	injected, err := digest.FormatForInjection(report, interactionID)
	if err != nil {
		slog.Error("context: digest formatting failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "digest_generation_failed",
		})
		return
	}
	if err := h.sessions.SaveMessage(email, "assistant", injected, interactionID); err != nil {
		slog.Warn("digest not persisted", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(injected))
}

// POST /api/feedback/positive
func (h *handler) handleFeedbackPositive(w http.ResponseWriter, r *http.Request) {
	h.recordFeedback(w, r, feedback.LabelPositive)
}

// POST /api/feedback/negative
func (h *handler) handleFeedbackNegative(w http.ResponseWriter, r *http.Request) {
	h.recordFeedback(w, r, feedback.LabelNegative)
}

func (h *handler) recordFeedback(w http.ResponseWriter, r *http.Request, label feedback.Label) {
	q := r.URL.Query()
	interactionID := q.Get("interaction_id")
	comment := q.Get("comment")
	if interactionID == "" {
		var body struct {
			InteractionID string `json:"interaction_id"`
			Comment       string `json:"comment,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			interactionID = body.InteractionID
			comment = body.Comment
		}
	}
	if interactionID == "" {
		writeError(w, http.StatusBadRequest, "interaction_id is required")
		return
	}

	id, err := h.feedback.Record(label, interactionID, comment)
	if err != nil {
		slog.Error("feedback error", "label", label, "error", err)
		writeError(w, http.StatusInternalServerError, "feedback not recorded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response":    "ok",
		"feedback_id": id,
	})
}

// GET /api/feedback/positive/stats
func (h *handler) handleFeedbackPositiveStats(w http.ResponseWriter, r *http.Request) {
	h.labelStats(w, feedback.LabelPositive)
}

// GET /api/feedback/negative/stats
func (h *handler) handleFeedbackNegativeStats(w http.ResponseWriter, r *http.Request) {
	h.labelStats(w, feedback.LabelNegative)
}

func (h *handler) labelStats(w http.ResponseWriter, label feedback.Label) {
	writeJSON(w, http.StatusOK, map[string]any{
		"response": "ok",
		"data": map[string]any{
			"label": string(label),
			"count": h.feedback.CountFor(label),
		},
	})
}

// GET /api/feedback/stats
func (h *handler) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.feedback.Stats())
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
