package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/temosalmi/wattson/index"
	"github.com/temosalmi/wattson/llm"
)

const rerankSystemPrompt = "You are a ranking assistant. Score each candidate's relevance to the user " +
	"question from 0.0 to 1.0. Return ONLY a JSON array of objects with fields " +
	"{id, score}. No prose, no extra keys."

// rerank scores candidates with a single LLM-as-judge call and reorders
// them by descending score. On any model or parse failure the input
// order is returned with zero scores; rerank never fails the retrieval.
func (e *Engine) rerank(ctx context.Context, question string, candidates []index.ScoredChunk) []index.ScoredChunk {
	previewChars := e.cfg.Rerank.PreviewChars
	if previewChars <= 0 {
		previewChars = 600
	}

	type candidatePayload struct {
		ID      string `json:"id"`
		Preview string `json:"preview"`
	}
	payload := make([]candidatePayload, len(candidates))
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		id := stableDocID(c.Chunk, i)
		ids[i] = id
		preview := c.Chunk.Text
		if len(preview) > previewChars {
			preview = preview[:previewChars]
		}
		payload[i] = candidatePayload{ID: id, Preview: preview}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return zeroScores(candidates)
	}
	userMsg := "Question:\n" + question + "\n\nCandidates (JSON array):\n" + string(payloadJSON)

	start := time.Now()
	resp, err := e.judge.Chat(ctx, llm.ChatRequest{
		Model: e.judgeModel,
		Messages: []llm.Message{
			{Role: "system", Content: rerankSystemPrompt},
			{Role: "user", Content: userMsg},
		},
	})
	elapsed := time.Since(start)

	// Soft timeout: overruns are logged but a late result is still used.
	if timeoutMS := e.cfg.Rerank.TimeoutMS; timeoutMS > 0 && elapsed > time.Duration(timeoutMS)*time.Millisecond {
		slog.Info("retrieval: rerank call exceeded soft timeout",
			"elapsed_ms", elapsed.Milliseconds(), "timeout_ms", timeoutMS)
	}

	if err != nil {
		slog.Info("retrieval: rerank call failed, keeping input order",
			"candidates", len(candidates), "error", err)
		return zeroScores(candidates)
	}

	// Parse once; on failure keep the input order with zero scores.
	var arr []struct {
		ID    string          `json:"id"`
		Score json.RawMessage `json:"score"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &arr); err != nil {
		slog.Info("retrieval: rerank JSON parse failed, keeping input order",
			"candidates", len(candidates))
		return zeroScores(candidates)
	}

	scores := make(map[string]float64)
	maxScore := 0.0
	for _, obj := range arr {
		if obj.ID == "" || obj.Score == nil {
			continue
		}
		var v float64
		if err := json.Unmarshal(obj.Score, &v); err != nil {
			continue
		}
		scores[obj.ID] = v
		if v > maxScore {
			maxScore = v
		}
	}

	// Judges sometimes answer on a 0..10 scale; rescale uniformly.
	if maxScore > 1.0 && maxScore <= 10.0 {
		for id := range scores {
			scores[id] /= 10.0
		}
	}
	for id, v := range scores {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		scores[id] = v
	}

	ranked := make([]index.ScoredChunk, len(candidates))
	for i, c := range candidates {
		ranked[i] = index.ScoredChunk{Chunk: c.Chunk, Score: scores[ids[i]]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
