package wattson

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/temosalmi/wattson/classify"
	"github.com/temosalmi/wattson/llm"
	"github.com/temosalmi/wattson/pipeline"
	"github.com/temosalmi/wattson/session"
)

type cannedProvider struct {
	content string
	err     error
}

func (p *cannedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.content}, nil
}

func (p *cannedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not an embedder")
}

type fakePipeline struct {
	name     string
	response string
	err      error
	gotReq   pipeline.Request
}

func (f *fakePipeline) Name() string { return f.name }

func (f *fakePipeline) Process(ctx context.Context, req pipeline.Request) (string, error) {
	f.gotReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestOrchestrator(t *testing.T, classification string, dc, ee *fakePipeline) *Orchestrator {
	t.Helper()
	sessions, err := session.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	classifier := classify.NewClassifier(&cannedProvider{content: classification}, "clf", "", "")
	return NewOrchestrator(classifier, sessions, dc, ee)
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("response not JSON: %v\n%s", err, raw)
	}
	return m
}

func TestProcessDispatchesDeviceControl(t *testing.T) {
	dc := &fakePipeline{name: "device_control", response: `{"message":"done","interactionId":"x","type":"text","content":[]}`}
	ee := &fakePipeline{name: "energy_efficiency"}
	o := newTestOrchestrator(t, "DEVICE_CONTROL", dc, ee)

	out := o.Process(context.Background(), Request{
		Message:    "turn on the light",
		Token:      "tok-1",
		LocationID: "loc-1",
		UserEmail:  "anna@example.com",
	})
	if decode(t, out)["message"] != "done" {
		t.Errorf("response = %s", out)
	}
	if dc.gotReq.Message != "turn on the light" {
		t.Errorf("pipeline got %q", dc.gotReq.Message)
	}
	if dc.gotReq.Token != "tok-1" || dc.gotReq.LocationID != "loc-1" {
		t.Errorf("credentials not forwarded: %+v", dc.gotReq)
	}
	if ee.gotReq.Message != "" {
		t.Error("wrong pipeline invoked")
	}
}

func TestProcessKeepsClientInteractionID(t *testing.T) {
	dc := &fakePipeline{name: "device_control", response: `{"message":"done","interactionId":"x","type":"text","content":[]}`}
	ee := &fakePipeline{name: "energy_efficiency"}
	o := newTestOrchestrator(t, "DEVICE_CONTROL", dc, ee)

	o.Process(context.Background(), Request{
		Message:       "turn on the light",
		UserEmail:     "anna@example.com",
		InteractionID: "client-id-7",
	})
	if dc.gotReq.InteractionID != "client-id-7" {
		t.Errorf("interaction id = %q, want the client-supplied one", dc.gotReq.InteractionID)
	}
}

func TestProcessDispatchesEnergyEfficiency(t *testing.T) {
	dc := &fakePipeline{name: "device_control"}
	ee := &fakePipeline{name: "energy_efficiency", response: `{"message":"tip","interactionId":"x","type":"text","content":[]}`}
	o := newTestOrchestrator(t, "ENERGY_EFFICIENCY", dc, ee)

	out := o.Process(context.Background(), Request{Message: "how to save energy?", UserEmail: "anna@example.com"})
	if decode(t, out)["message"] != "tip" {
		t.Errorf("response = %s", out)
	}
}

func TestProcessRejectsOtherQueries(t *testing.T) {
	dc := &fakePipeline{name: "device_control"}
	ee := &fakePipeline{name: "energy_efficiency"}
	o := newTestOrchestrator(t, "OTHER_QUERIES", dc, ee)

	out := o.Process(context.Background(), Request{Message: "tell me a joke", UserEmail: "anna@example.com"})
	decoded := decode(t, out)
	if decoded["type"] != "text" || decoded["message"] == "" {
		t.Errorf("rejection = %v", decoded)
	}
	if decoded["interactionId"] == "" {
		t.Error("rejection missing interaction id")
	}
	if dc.gotReq.Message != "" || ee.gotReq.Message != "" {
		t.Error("pipeline invoked for rejected message")
	}
}

func TestProcessPipelineFailureYieldsErrorPayload(t *testing.T) {
	dc := &fakePipeline{name: "device_control", err: errors.New("integrator down")}
	ee := &fakePipeline{name: "energy_efficiency"}
	o := newTestOrchestrator(t, "DEVICE_CONTROL", dc, ee)

	out := o.Process(context.Background(), Request{Message: "turn on the light", UserEmail: "anna@example.com"})
	decoded := decode(t, out)
	if decoded["type"] != "error" {
		t.Errorf("type = %v, want error", decoded["type"])
	}
	if decoded["message"] == "" {
		t.Error("empty error message")
	}
}

func TestProcessPersistsBothTurns(t *testing.T) {
	sessions, _ := session.NewManager(t.TempDir())
	classifier := classify.NewClassifier(&cannedProvider{content: "DEVICE_CONTROL"}, "clf", "", "")
	dc := &fakePipeline{name: "device_control", response: `{"message":"ok","interactionId":"x","type":"text","content":[]}`}
	o := NewOrchestrator(classifier, sessions, dc, &fakePipeline{name: "energy_efficiency"})

	o.Process(context.Background(), Request{Message: "hello", UserEmail: "anna@example.com"})

	history := sessions.LoadHistory("anna@example.com")
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", history[0].Role, history[1].Role)
	}
	// Both turns share the generated interaction id.
	if history[0].InteractionID == "" || history[0].InteractionID != history[1].InteractionID {
		t.Errorf("interaction ids = %q, %q", history[0].InteractionID, history[1].InteractionID)
	}
}

func TestProcessPassesPriorHistoryOnly(t *testing.T) {
	sessions, _ := session.NewManager(t.TempDir())
	sessions.SaveMessage("anna@example.com", "user", "earlier", "int-a")
	sessions.SaveMessage("anna@example.com", "assistant", "earlier answer", "int-a")

	classifier := classify.NewClassifier(&cannedProvider{content: "DEVICE_CONTROL"}, "clf", "", "")
	dc := &fakePipeline{name: "device_control", response: `{"message":"ok","interactionId":"x","type":"text","content":[]}`}
	o := NewOrchestrator(classifier, sessions, dc, &fakePipeline{name: "energy_efficiency"})

	o.Process(context.Background(), Request{Message: "current question", UserEmail: "anna@example.com"})
	// The just-saved user turn is stripped; only the two earlier turns
	// reach the pipeline.
	if len(dc.gotReq.History) != 2 {
		t.Errorf("pipeline saw %d history messages, want 2", len(dc.gotReq.History))
	}
}
