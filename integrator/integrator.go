// Package integrator abstracts the smart-home backend that owns device
// state.
package integrator

import (
	"context"
	"strings"
	"sync"
)

// Device is the normalized device shape handed to the LLM toolbox.
type Device struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	State   string   `json:"state,omitempty"`
	Actions []string `json:"actions"`
}

// ControlResult reports one control attempt without raising: structured
// errors are easier for the model to reason about than exceptions.
type ControlResult struct {
	OK       bool    `json:"ok"`
	Device   *Device `json:"device,omitempty"`
	Error    string  `json:"error,omitempty"`
	DeviceID string  `json:"device_id,omitempty"`
}

// Client is the provider-agnostic integrator contract. The token and
// location come from the client request; real backends implement the
// same interface and get selected at composition time.
type Client interface {
	GetDevices(ctx context.Context, token, locationID string) ([]Device, error)
	ControlDevice(ctx context.Context, token, deviceID, action string) (*ControlResult, error)
}

// Mock is a deterministic in-memory Client for local runs, demos and
// tests. No credentials, no network.
type Mock struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string
}

// NewMock seeds a small inventory covering more than one category.
func NewMock() *Mock {
	return &Mock{
		devices: map[string]*Device{
			"dev-1": {ID: "dev-1", Name: "Living Room Light", State: "off", Actions: []string{"on", "off"}},
			"dev-2": {ID: "dev-2", Name: "Heat Pump", State: "on", Actions: []string{"on", "off"}},
		},
		order: []string{"dev-1", "dev-2"},
	}
}

// GetDevices lists the inventory in stable order. The mock accepts any
// token.
func (m *Mock) GetDevices(ctx context.Context, token, locationID string) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.devices[id])
	}
	return out, nil
}

// ControlDevice flips a device on or off. Unknown devices and
// unsupported actions come back as structured errors, never as Go
// errors.
func (m *Mock) ControlDevice(ctx context.Context, token, deviceID, action string) (*ControlResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return &ControlResult{OK: false, Error: "device_not_found", DeviceID: deviceID}, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(action))
	if normalized != "on" && normalized != "off" {
		return &ControlResult{OK: false, Error: "unsupported_action", DeviceID: deviceID}, nil
	}
	d.State = normalized
	copied := *d
	return &ControlResult{OK: true, Device: &copied}, nil
}
