// Package schema validates assistant answers against the response
// contract shared by the edge and cloud tiers.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// energyEfficiencyResponseSchema is the strict contract for
// energy-efficiency answers. Extra keys are rejected so a drifting
// model cannot smuggle fields past downstream consumers.
const energyEfficiencyResponseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "interactionId": {"type": "string"},
    "type": {"type": "string", "const": "text"},
    "content": {"type": "array"}
  },
  "required": ["message", "interactionId", "type", "content"],
  "additionalProperties": false
}`

// Validator holds a compiled response schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the energy-efficiency response schema. The
// schema is a constant, so a compile failure is a programming error.
func NewValidator() (*Validator, error) {
	var doc any
	if err := json.Unmarshal([]byte(energyEfficiencyResponseSchema), &doc); err != nil {
		return nil, fmt.Errorf("schema: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("response.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add schema resource: %w", err)
	}
	s, err := c.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks a decoded JSON value against the response contract.
func (v *Validator) Validate(payload any) error {
	return v.schema.Validate(payload)
}

// ValidateBytes parses raw JSON and validates it in one step.
func (v *Validator) ValidateBytes(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("schema: parse payload: %w", err)
	}
	return v.schema.Validate(payload)
}

// Response is the decoded energy-efficiency answer shape.
type Response struct {
	Message       string `json:"message"`
	InteractionID string `json:"interactionId"`
	Type          string `json:"type"`
	Content       []any  `json:"content"`
}
