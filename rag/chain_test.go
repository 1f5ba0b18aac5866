package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/temosalmi/wattson/chunks"
	"github.com/temosalmi/wattson/index"
	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/retrieval"
	"github.com/temosalmi/wattson/schema"
)

type scriptedProvider struct {
	responses []string
	requests  []llm.ChatRequest
	err       error
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return &llm.ChatResponse{Content: p.responses[i]}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not an embedder")
}

type staticSemantic struct {
	results []index.ScoredChunk
}

func (s *staticSemantic) KNN(ctx context.Context, query string, k int) ([]index.ScoredChunk, error) {
	return s.results, nil
}

func testEngine(results ...index.ScoredChunk) *retrieval.Engine {
	return retrieval.NewEngine(retrieval.Config{Mode: "semantic", FinalTopK: 3},
		&staticSemantic{results: results}, nil, nil, "")
}

func testChain(t *testing.T, p llm.Provider, engine *retrieval.Engine, allowGeneral bool) *Chain {
	t.Helper()
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return NewChain(p, "test-model", engine, v, "", allowGeneral, 3)
}

func tipChunk(id, text string) index.ScoredChunk {
	return index.ScoredChunk{Chunk: chunks.Chunk{ID: id, Text: text}, Score: 0.8}
}

func TestSanitizeModelJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"Sure, here you go: {\"a\":1} hope that helps", "{\"a\":1}"},
		{"no json here", "no json here"},
	}
	for _, tc := range cases {
		if got := sanitizeModelJSON(tc.in); got != tc.want {
			t.Errorf("sanitizeModelJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractBalancedObject(t *testing.T) {
	cases := []struct{ in, want string }{
		{`prefix {"a": {"b": 2}} suffix {"c":3}`, `{"a": {"b": 2}}`},
		{`{"msg": "brace } inside string"} trailing`, `{"msg": "brace } inside string"}`},
		{`{"esc": "quote \" then"} rest`, `{"esc": "quote \" then"}`},
		{`{"unterminated": 1`, ""},
		{"no braces at all", ""},
	}
	for _, tc := range cases {
		if got := extractBalancedObject(tc.in); got != tc.want {
			t.Errorf("extractBalancedObject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAnswerHappyPath(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"message":"Run the dishwasher on eco mode.","interactionId":"model-made-this-up","type":"text","content":[]}`,
	}}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "Eco mode saves energy.")), false)

	ans, err := c.Answer(context.Background(), "How do I save on dishwashing?", "id-42", 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !ans.JSONValid {
		t.Error("JSONValid = false")
	}
	if ans.Response.InteractionID != "id-42" {
		t.Errorf("interactionId = %q, want id-42", ans.Response.InteractionID)
	}
	if ans.Response.Message != "Run the dishwasher on eco mode." {
		t.Errorf("message = %q", ans.Response.Message)
	}
	if len(ans.Context) != 1 || ans.Context[0].SourceID != "tips#0" {
		t.Errorf("context = %+v", ans.Context)
	}
	if len(p.requests) != 1 {
		t.Fatalf("provider called %d times, want 1", len(p.requests))
	}
	if p.requests[0].ResponseFormat != "json_object" {
		t.Errorf("response format = %q", p.requests[0].ResponseFormat)
	}
}

func TestAnswerRendersPrompt(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"message":"ok","interactionId":"x","type":"text","content":[]}`,
	}}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "Eco mode saves energy.")), false)

	if _, err := c.Answer(context.Background(), "dishwasher?", "id-7", 0); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	system := p.requests[0].Messages[0].Content
	for _, want := range []string{`"sourceId":"tips#0"`, "id-7", "dishwasher?", fallbackStrict} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(system, "{{") {
		t.Error("unrendered placeholder left in system prompt")
	}
	if p.requests[0].Messages[1].Content != guidanceStrict {
		t.Errorf("guidance = %q", p.requests[0].Messages[1].Content)
	}
}

func TestAnswerGeneralGuidanceWithoutContext(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"message":"General advice.","interactionId":"x","type":"text","content":[]}`,
	}}
	c := testChain(t, p, testEngine(), true)

	if _, err := c.Answer(context.Background(), "any tips?", "id-1", 0); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got := p.requests[0].Messages[1].Content; got != guidanceGeneral {
		t.Errorf("guidance = %q, want general-knowledge guidance", got)
	}
	if !strings.Contains(p.requests[0].Messages[0].Content, fallbackAllowGeneral) {
		t.Error("system prompt missing allow-general fallback policy")
	}
}

func TestAnswerRetriesOnce(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"I cannot answer in JSON, sorry.",
		`{"message":"Second try.","interactionId":"x","type":"text","content":[]}`,
	}}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "text")), false)

	ans, err := c.Answer(context.Background(), "q", "id-2", 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(p.requests) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.requests))
	}
	last := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	if last.Content != retryNudge {
		t.Errorf("retry nudge = %q", last.Content)
	}
	if ans.Response.Message != "Second try." {
		t.Errorf("message = %q", ans.Response.Message)
	}
}

func TestAnswerBalancedExtractionFallback(t *testing.T) {
	// Both attempts wrap the object in prose with a stray closing brace
	// after it, so only the balanced scan recovers it.
	noisy := `Answer: {"message":"ok","interactionId":"x","type":"text","content":[]} } done`
	p := &scriptedProvider{responses: []string{noisy, noisy}}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "text")), false)

	ans, err := c.Answer(context.Background(), "q", "id-3", 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Response.Message != "ok" {
		t.Errorf("message = %q", ans.Response.Message)
	}
}

func TestAnswerInvalidOutput(t *testing.T) {
	p := &scriptedProvider{responses: []string{"garbage", "more garbage"}}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "text")), false)

	_, err := c.Answer(context.Background(), "q", "id-4", 0)
	if !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestAnswerSchemaViolation(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"message":"ok","type":"text","content":[]}`,
		`{"message":"ok","type":"text","content":[]}`,
	}}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "text")), false)

	_, err := c.Answer(context.Background(), "q", "id-5", 0)
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("err = %v, want ErrSchemaValidation", err)
	}
}

func TestAnswerProviderFailure(t *testing.T) {
	p := &scriptedProvider{err: errors.New("connection refused")}
	c := testChain(t, p, testEngine(tipChunk("tips#0", "text")), false)

	_, err := c.Answer(context.Background(), "q", "id-6", 0)
	if !errors.Is(err, ErrLLMRequestFailed) {
		t.Fatalf("err = %v, want ErrLLMRequestFailed", err)
	}
}
