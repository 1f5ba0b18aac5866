package schema

import "testing"

func mustValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidatePasses(t *testing.T) {
	v := mustValidator(t)
	raw := []byte(`{"message":"Lower the thermostat by one degree.","interactionId":"abc-123","type":"text","content":[]}`)
	if err := v.ValidateBytes(raw); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	v := mustValidator(t)
	cases := []struct {
		name string
		raw  string
	}{
		{"missing message", `{"interactionId":"a","type":"text","content":[]}`},
		{"missing interactionId", `{"message":"m","type":"text","content":[]}`},
		{"wrong type value", `{"message":"m","interactionId":"a","type":"error","content":[]}`},
		{"content not array", `{"message":"m","interactionId":"a","type":"text","content":"none"}`},
		{"extra key", `{"message":"m","interactionId":"a","type":"text","content":[],"debug":true}`},
		{"message not string", `{"message":5,"interactionId":"a","type":"text","content":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.ValidateBytes([]byte(tc.raw)); err == nil {
				t.Errorf("payload accepted, want validation error")
			}
		})
	}
}

func TestValidateBytesMalformedJSON(t *testing.T) {
	v := mustValidator(t)
	if err := v.ValidateBytes([]byte(`{"message": `)); err == nil {
		t.Error("malformed JSON accepted")
	}
}
