package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/temosalmi/wattson/integrator"
	"github.com/temosalmi/wattson/llm"
)

// maxToolRounds bounds the tool loop so a confused model cannot spin
// forever.
const maxToolRounds = 5

const defaultDeviceControlPrompt = `You are a smart-home assistant controlling the user's devices.

Use the available tools to look up devices, check schedules, prices and weather, and to turn devices on or off. When the user names a device, call get_devices first to resolve its id. After the tools have run, answer the user in one or two plain sentences describing what happened.`

// DeviceControl drives the tool-calling conversation for device
// commands.
type DeviceControl struct {
	provider llm.Provider
	model    string
	tools    *toolbox
	prompt   string
}

// NewDeviceControl wires the pipeline. promptPath is optional.
func NewDeviceControl(provider llm.Provider, model string, client integrator.Client, promptPath string) *DeviceControl {
	prompt := defaultDeviceControlPrompt
	if promptPath != "" {
		if data, err := os.ReadFile(promptPath); err == nil {
			prompt = string(data)
		} else {
			slog.Warn("pipeline: device control prompt not readable, using built-in", "path", promptPath, "error", err)
		}
	}
	return &DeviceControl{
		provider: provider,
		model:    model,
		tools:    newDeviceToolbox(client),
		prompt:   prompt,
	}
}

func (p *DeviceControl) Name() string { return "device_control" }

// Process runs the tool loop: the model may call tools across several
// rounds before producing its final answer.
func (p *DeviceControl) Process(ctx context.Context, req Request) (string, error) {
	interactionID := req.InteractionID
	scope := callScope{token: req.Token, locationID: req.LocationID}

	messages := []llm.Message{{Role: "system", Content: p.prompt}}
	for _, h := range req.History {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	for round := 0; round < maxToolRounds; round++ {
		resp, err := p.provider.Chat(ctx, llm.ChatRequest{
			Model:      p.model,
			Messages:   messages,
			Tools:      p.tools.specs,
			ToolChoice: "auto",
		})
		if err != nil {
			return "", fmt.Errorf("pipeline: device control chat: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return textResponse(resp.Content, interactionID), nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := p.tools.dispatch(ctx, scope, call.Function.Name, []byte(call.Function.Arguments))
			slog.Debug("pipeline: tool executed",
				"tool", call.Function.Name, "interaction_id", interactionID)
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}
	}

	return "", fmt.Errorf("pipeline: device control exceeded %d tool rounds", maxToolRounds)
}
