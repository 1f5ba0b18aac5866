package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/temosalmi/wattson/chunks"
	"github.com/temosalmi/wattson/evalqueue"
	"github.com/temosalmi/wattson/feedback"
	"github.com/temosalmi/wattson/index"
	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/rag"
	"github.com/temosalmi/wattson/retrieval"
	"github.com/temosalmi/wattson/schema"
	"github.com/temosalmi/wattson/trace"
)

type cannedProvider struct {
	content string
}

func (p *cannedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: p.content}, nil
}

func (p *cannedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not an embedder")
}

type staticSemantic struct {
	results []index.ScoredChunk
}

func (s *staticSemantic) KNN(ctx context.Context, query string, k int) ([]index.ScoredChunk, error) {
	return s.results, nil
}

func newTestHandler(t *testing.T) *handler {
	t.Helper()
	dir := t.TempDir()

	engine := retrieval.NewEngine(retrieval.Config{Mode: "semantic", FinalTopK: 3},
		&staticSemantic{results: []index.ScoredChunk{
			{Chunk: chunks.Chunk{ID: "tips#0", Text: "Eco mode saves energy."}, Score: 0.8},
		}}, nil, nil, "")

	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	provider := &cannedProvider{
		content: `{"message":"Use eco mode.","interactionId":"x","type":"text","content":[]}`,
	}
	chain := rag.NewChain(provider, "test-model", engine, validator, "", false, 3)

	queue, err := evalqueue.Open(filepath.Join(dir, "eval_queue.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	store, err := feedback.OpenStore(filepath.Join(dir, "feedback.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return newHandler(chain, queue, store, trace.LogSink{}, "test-model")
}

func TestAnswerAcceptsCamelCaseFields(t *testing.T) {
	h := newTestHandler(t)

	body := `{"question":"How do I save energy?","interactionId":"id-9","topK":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/rag/answer", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleAnswer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	// The chain stamps the caller's interaction id over the model's.
	if resp["interactionId"] != "id-9" {
		t.Errorf("interactionId = %v, want id-9", resp["interactionId"])
	}
	if resp["message"] != "Use eco mode." {
		t.Errorf("message = %v", resp["message"])
	}
}

func TestAnswerRejectsMissingInteractionID(t *testing.T) {
	h := newTestHandler(t)

	// Snake-case field names are not part of the contract.
	body := `{"question":"q","interaction_id":"id-9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/rag/answer", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleAnswer(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "interactionId") {
		t.Errorf("error body = %s", rec.Body.String())
	}
}
