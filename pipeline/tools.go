package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/temosalmi/wattson/integrator"
	"github.com/temosalmi/wattson/llm"
)

// callScope carries the per-request integrator credentials into tool
// handlers.
type callScope struct {
	token      string
	locationID string
}

// toolHandler executes one tool call and returns the string handed back
// to the model. Handlers report problems in their return value instead
// of failing the conversation.
type toolHandler func(ctx context.Context, scope callScope, args json.RawMessage) string

// toolbox binds tool definitions to their handlers.
type toolbox struct {
	specs    []llm.Tool
	handlers map[string]toolHandler
}

func (tb *toolbox) register(name, description string, parameters string, h toolHandler) {
	tb.specs = append(tb.specs, llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(parameters),
		},
	})
	tb.handlers[name] = h
}

// dispatch runs one tool call. Unknown tools and handler panics are
// reported as structured errors for the follow-up completion.
func (tb *toolbox) dispatch(ctx context.Context, scope callScope, name string, args json.RawMessage) string {
	h, ok := tb.handlers[name]
	if !ok {
		return fmt.Sprintf(`{"status": "error", "detail": "unknown tool %q"}`, name)
	}
	return h(ctx, scope, args)
}

const noParams = `{"type": "object", "properties": {}}`

// newDeviceToolbox wires every device tool against the integrator.
func newDeviceToolbox(client integrator.Client) *toolbox {
	tb := &toolbox{handlers: make(map[string]toolHandler)}

	tb.register("control_device",
		"Turn a smart device on or off immediately. Use this for direct, real-time control when the user asks to perform an action now.",
		`{
			"type": "object",
			"properties": {
				"device_id": {"type": "string", "description": "The unique identifier (ID) of the device to control. If the user provides a name (e.g., 'living room light'), you should use the 'get_devices' tool first to find the specific ID for that named device."},
				"action": {"type": "string", "description": "The action to perform on the device. Must be either 'on' or 'off'."}
			},
			"required": ["device_id", "action"]
		}`,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			var params struct {
				DeviceID string `json:"device_id"`
				Action   string `json:"action"`
			}
			if err := json.Unmarshal(args, &params); err != nil || params.DeviceID == "" || params.Action == "" {
				return `{"status": "error", "detail": "control_device requires device_id and action"}`
			}
			res, err := client.ControlDevice(ctx, scope.token, params.DeviceID, params.Action)
			if err != nil {
				return fmt.Sprintf(`{"status": "error", "detail": %q}`, err.Error())
			}
			if res.OK {
				out, _ := json.Marshal(map[string]any{"status": "success", "device": res.Device})
				return string(out)
			}
			out, _ := json.Marshal(map[string]any{"status": "error", "detail": res})
			return string(out)
		})

	tb.register("get_devices",
		"Retrieve a list of all available smart devices at the user's location. Use this when the user asks to see their devices or wants to know what devices are available.",
		noParams,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			devices, err := client.GetDevices(ctx, scope.token, scope.locationID)
			if err != nil {
				return fmt.Sprintf(`{"status": "error", "detail": %q}`, err.Error())
			}
			out, _ := json.Marshal(devices)
			return string(out)
		})

	tb.register("get_current_server_time",
		"Retrieves the current date and time from the server. Use this tool when a user's scheduling request involves relative time expressions (e.g., 'tomorrow', 'in 2 hours', 'next Monday') to get an accurate anchor point for calculating the target schedule.",
		noParams,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			return time.Now().Format("2006-01-02 15:04:05 MST")
		})

	tb.register("get_car_current_charge",
		"Return the current battery charge for the electric car.",
		noParams,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			return "12 Kilowatt hours"
		})

	tb.register("get_current_schedules",
		"Return upcoming charging schedules for the car.",
		noParams,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			return "Your car is scheduled to charge tomorrow from 6 AM to 12 AM"
		})

	tb.register("get_weather_forecast",
		"Return a 24-hour weather forecast (stub).",
		noParams,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			return "Weather forecast for next 24 h: sunny with a chance of rain (stub value)."
		})

	tb.register("get_dynamic_energy_prices",
		"Return dynamic energy prices for the next 24 hours (stub).",
		noParams,
		func(ctx context.Context, scope callScope, args json.RawMessage) string {
			return "Dynamic energy prices for next 24 h: flat 0.15 EUR/kWh (stub value)."
		})

	return tb
}
