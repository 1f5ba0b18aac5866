package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/schema"
)

// ErrCloudUnavailable marks answers that came from the local fallback
// path because the cloud tier could not serve the question.
var ErrCloudUnavailable = errors.New("pipeline: cloud RAG unavailable")

const defaultLocalEnergyPrompt = `You are a household energy-efficiency assistant. Answer briefly and practically.

Respond with ONLY one JSON object:
{"message": "<answer>", "interactionId": "{{INTERACTION_ID}}", "type": "text", "content": []}`

// EnergyEfficiency answers energy questions cloud-first with a local
// model fallback, so a flaky uplink degrades quality instead of
// availability.
type EnergyEfficiency struct {
	cloudURL  string
	client    *http.Client
	provider  llm.Provider
	model     string
	validator *schema.Validator
	topK      int
}

// NewEnergyEfficiency wires the pipeline. cloudURL may be empty to run
// local-only. timeout bounds the cloud round trip.
func NewEnergyEfficiency(cloudURL string, timeout time.Duration, provider llm.Provider, model string, validator *schema.Validator, topK int) *EnergyEfficiency {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	if topK <= 0 {
		topK = 3
	}
	return &EnergyEfficiency{
		cloudURL:  strings.TrimSuffix(cloudURL, "/"),
		client:    &http.Client{Timeout: timeout},
		provider:  provider,
		model:     model,
		validator: validator,
		topK:      topK,
	}
}

func (p *EnergyEfficiency) Name() string { return "energy_efficiency" }

// Process asks the cloud RAG service first and falls back to the local
// model when the cloud answer is missing or malformed.
func (p *EnergyEfficiency) Process(ctx context.Context, req Request) (string, error) {
	if p.cloudURL != "" {
		answer, err := p.askCloud(ctx, req.Message, req.InteractionID)
		if err == nil {
			return answer, nil
		}
		slog.Warn("pipeline: cloud RAG failed, falling back to local model",
			"interaction_id", req.InteractionID, "error", err)
	}
	return p.askLocal(ctx, req.Message, req.InteractionID)
}

func (p *EnergyEfficiency) askCloud(ctx context.Context, message, interactionID string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"question":      message,
		"interactionId": interactionID,
		"topK":          p.topK,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cloudURL+"/api/rag/answer", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCloudUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrCloudUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCloudUnavailable, err)
	}
	if err := p.validator.ValidateBytes(raw); err != nil {
		return "", fmt.Errorf("cloud answer failed validation: %w", err)
	}
	return string(raw), nil
}

func (p *EnergyEfficiency) askLocal(ctx context.Context, message, interactionID string) (string, error) {
	system := strings.ReplaceAll(defaultLocalEnergyPrompt, "{{INTERACTION_ID}}", interactionID)
	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: message},
		},
		ResponseFormat: "json_object",
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: local energy model: %w", err)
	}

	raw := strings.TrimSpace(resp.Content)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	if err := p.validator.ValidateBytes([]byte(raw)); err != nil {
		// Salvage the answer text rather than failing the turn.
		var loose struct {
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal([]byte(raw), &loose); jsonErr == nil && loose.Message != "" {
			return textResponse(loose.Message, interactionID), nil
		}
		return "", fmt.Errorf("pipeline: local answer failed validation: %w", err)
	}

	// Rewrite the echoed interaction id with the authoritative one.
	var parsed schema.Response
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", fmt.Errorf("pipeline: local answer not decodable: %w", err)
	}
	return textResponse(parsed.Message, interactionID), nil
}
