// Package rag turns a question into a schema-valid answer grounded in
// retrieved context.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/retrieval"
	"github.com/temosalmi/wattson/schema"
)

var (
	// ErrInvalidModelOutput means no JSON object could be recovered from
	// the model response even after a retry.
	ErrInvalidModelOutput = errors.New("rag: model output is not valid JSON")
	// ErrSchemaValidation means the recovered JSON violates the response
	// contract.
	ErrSchemaValidation = errors.New("rag: response failed schema validation")
	// ErrLLMRequestFailed wraps transport or provider failures.
	ErrLLMRequestFailed = errors.New("rag: llm request failed")
)

const defaultSystemPrompt = `You are a household energy-efficiency assistant.

Answer the user's question using the context below. Be concise and practical.

Context (JSON array of {sourceId, chunk, score}):
{{CONTEXT}}

{{FALLBACK_POLICY}}

Respond with ONLY one JSON object:
{"message": "<answer>", "interactionId": "{{INTERACTION_ID}}", "type": "text", "content": []}

Top {{TOP_K}} context chunks were retrieved for this question.

Question: {{QUESTION}}`

const (
	fallbackAllowGeneral = "If context is missing or insufficient, you may answer briefly based on household best practices; return an empty content array."
	fallbackStrict       = "If context is missing or insufficient, say so briefly and return an empty content array."

	guidanceGeneral = "If context is missing or insufficient, you MAY answer briefly based on general household energy-efficiency best practices. Set content to an empty array. Return ONLY JSON."
	guidanceStrict  = "Return ONLY one valid JSON object matching the schema."

	retryNudge = "Return ONLY one valid JSON object that matches the schema. No extra text."
)

// ContextItem is one retrieved chunk as presented to the model and
// reported back to callers.
type ContextItem struct {
	SourceID string  `json:"sourceId"`
	Chunk    string  `json:"chunk"`
	Score    float64 `json:"score"`
}

// Answer is the outcome of one chain run.
type Answer struct {
	Response  schema.Response
	Context   []ContextItem
	Model     string
	JSONValid bool
}

// Chain wires retrieval, generation and validation.
type Chain struct {
	provider     llm.Provider
	model        string
	engine       *retrieval.Engine
	validator    *schema.Validator
	systemPrompt string
	allowGeneral bool
	defaultTopK  int
}

// NewChain builds a Chain. The system prompt is read once from
// promptPath; a missing file falls back to the built-in prompt.
func NewChain(provider llm.Provider, model string, engine *retrieval.Engine, validator *schema.Validator, promptPath string, allowGeneral bool, defaultTopK int) *Chain {
	prompt := defaultSystemPrompt
	if promptPath != "" {
		data, err := os.ReadFile(promptPath)
		if err != nil {
			slog.Warn("rag: system prompt not readable, using built-in", "path", promptPath, "error", err)
		} else {
			prompt = string(data)
		}
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &Chain{
		provider:     provider,
		model:        model,
		engine:       engine,
		validator:    validator,
		systemPrompt: prompt,
		allowGeneral: allowGeneral,
		defaultTopK:  defaultTopK,
	}
}

// Answer runs retrieval and generation for one question. topK overrides
// the configured context size when positive.
func (c *Chain) Answer(ctx context.Context, question, interactionID string, topK int) (*Answer, error) {
	if topK <= 0 {
		topK = c.defaultTopK
	}

	retrieved := c.engine.Retrieve(ctx, question, topK)
	items := make([]ContextItem, len(retrieved))
	for i, r := range retrieved {
		items[i] = ContextItem{SourceID: r.Chunk.ID, Chunk: r.Chunk.Text, Score: r.Score}
	}

	system, guidance := c.renderPrompt(question, interactionID, topK, items)

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: guidance},
	}

	raw, err := c.generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	payload, raw, err := c.parseWithRetry(ctx, messages, raw)
	if err != nil {
		return &Answer{Context: items, Model: c.model}, err
	}

	if err := c.validator.Validate(payload); err != nil {
		return &Answer{Context: items, Model: c.model}, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}

	var resp schema.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return &Answer{Context: items, Model: c.model}, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err)
	}
	// The model echoes the interaction id; never trust the echo.
	resp.InteractionID = interactionID
	if resp.Content == nil {
		resp.Content = []any{}
	}

	return &Answer{Response: resp, Context: items, Model: c.model, JSONValid: true}, nil
}

func (c *Chain) renderPrompt(question, interactionID string, topK int, items []ContextItem) (system, guidance string) {
	contextJSON, err := json.Marshal(items)
	if err != nil {
		contextJSON = []byte("[]")
	}

	fallback := fallbackStrict
	if c.allowGeneral {
		fallback = fallbackAllowGeneral
	}

	r := strings.NewReplacer(
		"{{CONTEXT}}", string(contextJSON),
		"{{INTERACTION_ID}}", interactionID,
		"{{TOP_K}}", strconv.Itoa(topK),
		"{{QUESTION}}", question,
		"{{FALLBACK_POLICY}}", fallback,
	)
	system = r.Replace(c.systemPrompt)

	guidance = guidanceStrict
	if c.allowGeneral && len(items) == 0 {
		guidance = guidanceGeneral
	}
	return system, guidance
}

func (c *Chain) generate(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	return resp.Content, nil
}

// parseWithRetry attempts a lenient parse, retries generation once with
// an explicit nudge, then falls back to balanced-brace extraction.
func (c *Chain) parseWithRetry(ctx context.Context, messages []llm.Message, raw string) (any, string, error) {
	if payload, cleaned, ok := tryParse(raw); ok {
		return payload, cleaned, nil
	}

	slog.Info("rag: model output not valid JSON, retrying once")
	retryMessages := append(append([]llm.Message{}, messages...),
		llm.Message{Role: "assistant", Content: raw},
		llm.Message{Role: "user", Content: retryNudge},
	)
	retried, err := c.generate(ctx, retryMessages)
	if err == nil {
		if payload, cleaned, ok := tryParse(retried); ok {
			return payload, cleaned, nil
		}
		raw = retried
	}

	if extracted := extractBalancedObject(raw); extracted != "" {
		var payload any
		if err := json.Unmarshal([]byte(extracted), &payload); err == nil {
			return payload, extracted, nil
		}
	}
	return nil, "", ErrInvalidModelOutput
}

func tryParse(raw string) (any, string, bool) {
	cleaned := sanitizeModelJSON(raw)
	var payload any
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, "", false
	}
	if _, ok := payload.(map[string]any); !ok {
		return nil, "", false
	}
	return payload, cleaned, true
}
