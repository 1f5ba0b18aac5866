package classify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/temosalmi/wattson/llm"
)

type cannedProvider struct {
	content string
	err     error
	lastReq llm.ChatRequest
}

func (p *cannedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.content}, nil
}

func (p *cannedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not an embedder")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     Category
	}{
		{"exact device control", "DEVICE_CONTROL", CategoryDeviceControl},
		{"exact energy efficiency", "ENERGY_EFFICIENCY", CategoryEnergyEfficiency},
		{"exact other", "OTHER_QUERIES", CategoryOther},
		{"lowercase", "device_control", CategoryDeviceControl},
		{"wrapped in prose", "The category is: ENERGY_EFFICIENCY.", CategoryEnergyEfficiency},
		{"whitespace", "  DEVICE_CONTROL\n", CategoryDeviceControl},
		{"unknown output", "SMALL_TALK", CategoryOther},
		{"device control wins over energy", "DEVICE_CONTROL or ENERGY_EFFICIENCY", CategoryDeviceControl},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClassifier(&cannedProvider{content: tc.response}, "clf-model", "", "")
			if got := c.Classify(context.Background(), "turn on the lights"); got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.response, got, tc.want)
			}
		})
	}
}

func TestClassifyModelFailure(t *testing.T) {
	c := NewClassifier(&cannedProvider{err: errors.New("timeout")}, "clf-model", "", "")
	if got := c.Classify(context.Background(), "hello"); got != CategoryOther {
		t.Errorf("failed classification = %v, want OTHER_QUERIES", got)
	}
}

func TestClassifyRendersMessageIntoPrompt(t *testing.T) {
	p := &cannedProvider{content: "OTHER_QUERIES"}
	c := NewClassifier(p, "clf-model", "", "")
	c.Classify(context.Background(), "dim the bedroom lights")
	if !strings.Contains(p.lastReq.Messages[0].Content, "dim the bedroom lights") {
		t.Error("user message not rendered into the classification prompt")
	}
	if p.lastReq.Model != "clf-model" {
		t.Errorf("model = %q", p.lastReq.Model)
	}
}

func TestRejectionResponse(t *testing.T) {
	c := NewClassifier(&cannedProvider{}, "clf-model", "", "")
	raw := c.RejectionResponse("int-11")

	var decoded struct {
		Message       string `json:"message"`
		InteractionID string `json:"interactionId"`
		Type          string `json:"type"`
		Content       []any  `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("rejection not valid JSON: %v", err)
	}
	if decoded.InteractionID != "int-11" || decoded.Type != "text" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Message == "" {
		t.Error("empty rejection message")
	}
	if decoded.Content == nil || len(decoded.Content) != 0 {
		t.Errorf("content = %v, want empty array", decoded.Content)
	}
}

func TestCustomTemplates(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "classification_prompt.txt")
	rejectionPath := filepath.Join(dir, "other_queries_response.txt")
	os.WriteFile(promptPath, []byte("Classify: {{MESSAGE}}"), 0o644)
	os.WriteFile(rejectionPath, []byte("Sorry, out of scope.\n"), 0o644)

	p := &cannedProvider{content: "OTHER_QUERIES"}
	c := NewClassifier(p, "clf-model", promptPath, rejectionPath)
	c.Classify(context.Background(), "hi")
	if p.lastReq.Messages[0].Content != "Classify: hi" {
		t.Errorf("prompt = %q", p.lastReq.Messages[0].Content)
	}

	var decoded map[string]any
	json.Unmarshal([]byte(c.RejectionResponse("x")), &decoded)
	if decoded["message"] != "Sorry, out of scope." {
		t.Errorf("rejection message = %v", decoded["message"])
	}
}
