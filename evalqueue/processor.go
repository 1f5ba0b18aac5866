package evalqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/trace"
)

const judgeSystemPrompt = "You are an evaluation judge. Given a question, the retrieved context and " +
	"the assistant's answer, score how relevant and grounded the answer is " +
	"from 0.0 to 1.0. Return ONLY a JSON object: {\"relevance\": <score>}."

// Summary reports the outcome of one processing run.
type Summary struct {
	Processed     int     `json:"processed"`
	MeanRelevance float64 `json:"mean_relevance"`
	Failures      int     `json:"failures"`
}

// Processor drains the queue through an LLM judge. Judge failures score
// the item 0.0 rather than blocking the queue.
type Processor struct {
	queue     *Queue
	judge     llm.Provider
	model     string
	sink      trace.Sink
	batchSize int
}

// NewProcessor wires a Processor. sink may be nil.
func NewProcessor(queue *Queue, judge llm.Provider, model string, sink trace.Sink, batchSize int) *Processor {
	if batchSize <= 0 {
		batchSize = 20
	}
	if sink == nil {
		sink = trace.NopSink{}
	}
	return &Processor{queue: queue, judge: judge, model: model, sink: sink, batchSize: batchSize}
}

// Run evaluates one batch of pending items and marks every fetched item
// processed, scored or not.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	items, err := p.queue.Pending(ctx, p.batchSize)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &Summary{}, nil
	}

	scores := make(map[int64]float64, len(items))
	sum := 0.0
	failures := 0
	for _, it := range items {
		score, err := p.scoreItem(ctx, it)
		if err != nil {
			slog.Warn("evalqueue: judge failed, scoring 0.0",
				"interaction_id", it.InteractionID, "error", err)
			score = 0.0
			failures++
		}
		scores[it.ID] = score
		sum += score
		p.sink.Score(ctx, it.InteractionID, score)
	}

	if err := p.queue.MarkProcessed(ctx, scores); err != nil {
		return nil, err
	}

	return &Summary{
		Processed:     len(items),
		MeanRelevance: sum / float64(len(items)),
		Failures:      failures,
	}, nil
}

func (p *Processor) scoreItem(ctx context.Context, it Item) (float64, error) {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(it.Question)
	b.WriteString("\n\nContext:\n")
	b.WriteString(contextText(it.ContextJSON))
	b.WriteString("\n\nAnswer:\n")
	b.WriteString(it.Answer)

	resp, err := p.judge.Chat(ctx, llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		ResponseFormat: "json_object",
	})
	if err != nil {
		return 0, err
	}

	var verdict struct {
		Relevance float64 `json:"relevance"`
	}
	content := strings.TrimSpace(resp.Content)
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return 0, fmt.Errorf("parse verdict: %w", err)
	}

	score := verdict.Relevance
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// contextText renders the stored context chunks for the judge, separated
// by --- lines. Unparseable context is passed through as stored.
func contextText(contextJSON string) string {
	var items []struct {
		Chunk string `json:"chunk"`
	}
	if err := json.Unmarshal([]byte(contextJSON), &items); err != nil || len(items) == 0 {
		return contextJSON
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Chunk
	}
	return strings.Join(parts, "\n---\n")
}
