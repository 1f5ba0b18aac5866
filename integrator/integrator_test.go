package integrator

import (
	"context"
	"testing"
)

func TestMockGetDevices(t *testing.T) {
	m := NewMock()
	devices, err := m.GetDevices(context.Background(), "tok-1", "loc-1")
	if err != nil {
		t.Fatalf("GetDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].ID != "dev-1" || devices[0].Name != "Living Room Light" {
		t.Errorf("first device = %+v", devices[0])
	}
	if devices[1].ID != "dev-2" || devices[1].Name != "Heat Pump" {
		t.Errorf("second device = %+v", devices[1])
	}
	for _, d := range devices {
		if len(d.Actions) != 2 || d.Actions[0] != "on" || d.Actions[1] != "off" {
			t.Errorf("device %s actions = %v", d.ID, d.Actions)
		}
	}
}

func TestMockControlDevice(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	res, err := m.ControlDevice(ctx, "tok-1", "dev-1", "ON ")
	if err != nil {
		t.Fatalf("ControlDevice: %v", err)
	}
	if !res.OK || res.Device == nil || res.Device.State != "on" {
		t.Errorf("result = %+v", res)
	}

	// State change is visible to subsequent listings.
	devices, _ := m.GetDevices(ctx, "tok-1", "loc-1")
	if devices[0].State != "on" {
		t.Errorf("state after control = %q, want on", devices[0].State)
	}
}

func TestMockControlDeviceErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	res, err := m.ControlDevice(ctx, "tok-1", "dev-99", "on")
	if err != nil {
		t.Fatalf("ControlDevice: %v", err)
	}
	if res.OK || res.Error != "device_not_found" || res.DeviceID != "dev-99" {
		t.Errorf("unknown device result = %+v", res)
	}

	res, _ = m.ControlDevice(ctx, "tok-1", "dev-1", "explode")
	if res.OK || res.Error != "unsupported_action" {
		t.Errorf("unsupported action result = %+v", res)
	}
}
