// Package classify routes incoming user messages to the right
// pipeline.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/temosalmi/wattson/llm"
)

// Category is the routing decision for one user message.
type Category string

const (
	CategoryDeviceControl    Category = "DEVICE_CONTROL"
	CategoryEnergyEfficiency Category = "ENERGY_EFFICIENCY"
	CategoryOther            Category = "OTHER_QUERIES"
)

const defaultClassificationPrompt = `You classify smart-home user messages into exactly one category.

Categories:
- DEVICE_CONTROL: the user wants to control, schedule or query a device (lights, heat pump, car charging, schedules, prices, weather).
- ENERGY_EFFICIENCY: the user asks how to save energy or reduce costs.
- OTHER_QUERIES: anything else.

Respond with ONLY the category name.

Message: {{MESSAGE}}`

const defaultRejectionMessage = "I'm your home energy assistant, so I can help you control your smart home devices or answer energy efficiency questions. That request is outside what I can help with."

// Classifier decides the category for a message with a small LLM call.
// Any model failure falls back to OTHER_QUERIES so the system keeps
// answering.
type Classifier struct {
	provider         llm.Provider
	model            string
	prompt           string
	rejectionMessage string
}

// NewClassifier builds a Classifier. promptPath and rejectionPath are
// optional template files; missing files fall back to built-ins.
func NewClassifier(provider llm.Provider, model, promptPath, rejectionPath string) *Classifier {
	prompt := defaultClassificationPrompt
	if promptPath != "" {
		if data, err := os.ReadFile(promptPath); err == nil {
			prompt = string(data)
		} else {
			slog.Warn("classify: prompt file not readable, using built-in", "path", promptPath, "error", err)
		}
	}
	rejection := defaultRejectionMessage
	if rejectionPath != "" {
		if data, err := os.ReadFile(rejectionPath); err == nil {
			rejection = strings.TrimSpace(string(data))
		} else {
			slog.Warn("classify: rejection file not readable, using built-in", "path", rejectionPath, "error", err)
		}
	}
	return &Classifier{provider: provider, model: model, prompt: prompt, rejectionMessage: rejection}
}

// Classify categorizes one message. Matching is substring containment
// on the uppercased model output, DEVICE_CONTROL checked first.
func (c *Classifier) Classify(ctx context.Context, message string) Category {
	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "system", Content: strings.ReplaceAll(c.prompt, "{{MESSAGE}}", message)},
		},
	})
	if err != nil {
		slog.Warn("classify: model call failed, falling back to OTHER_QUERIES", "error", err)
		return CategoryOther
	}

	out := strings.ToUpper(strings.TrimSpace(resp.Content))
	switch {
	case strings.Contains(out, string(CategoryDeviceControl)):
		return CategoryDeviceControl
	case strings.Contains(out, string(CategoryEnergyEfficiency)):
		return CategoryEnergyEfficiency
	default:
		return CategoryOther
	}
}

// RejectionResponse renders the canned answer for unsupported queries,
// in the same shape the pipelines produce.
func (c *Classifier) RejectionResponse(interactionID string) string {
	data, _ := json.Marshal(map[string]any{
		"message":       c.rejectionMessage,
		"interactionId": interactionID,
		"type":          "text",
		"content":       []any{},
	})
	return string(data)
}
