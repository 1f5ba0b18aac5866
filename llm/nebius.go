package llm

import "context"

// nebiusProvider implements Provider for Nebius AI Studio, which exposes
// an OpenAI-compatible API for both chat and embeddings.
//
// API key: set via config or the NEBIUS_API_KEY env var.
type nebiusProvider struct {
	base openAICompatClient
}

// NewNebius creates a provider for Nebius AI Studio.
func NewNebius(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.studio.nebius.ai"
	}
	return &nebiusProvider{base: newOpenAICompatClient(cfg)}
}

func (p *nebiusProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *nebiusProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
