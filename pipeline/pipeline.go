// Package pipeline contains the per-category message handlers the edge
// orchestrator dispatches to.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/temosalmi/wattson/session"
)

// Request carries one classified user message through a pipeline. Token
// and LocationID come from the client request and scope integrator
// calls; they are never persisted.
type Request struct {
	Message       string
	InteractionID string
	Token         string
	LocationID    string
	History       []session.Message
}

// Pipeline handles one category of user messages and returns the JSON
// response stored in conversation history and sent to the client.
type Pipeline interface {
	Name() string
	Process(ctx context.Context, req Request) (string, error)
}

// textResponse renders the standard assistant answer shape.
func textResponse(message, interactionID string) string {
	data, _ := json.Marshal(map[string]any{
		"message":       message,
		"interactionId": interactionID,
		"type":          "text",
		"content":       []any{},
	})
	return string(data)
}
