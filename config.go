package wattson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all runtime configuration for both tiers. The same file
// format is shared by the edge server, the cloud server, and the seed CLI;
// each binary reads only the sections it needs.
type Config struct {
	Server     ServerConfig    `json:"server"`
	LLM        LLMConfig       `json:"llm"`
	Embeddings EmbeddingConfig `json:"embeddings"`
	Paths      PathsConfig     `json:"paths"`
	Retrieval  RetrievalConfig `json:"retrieval"`
	Rerank     RerankConfig    `json:"rerank"`
	Features   FeatureConfig   `json:"features"`
	CloudRAG   CloudRAGConfig  `json:"cloud_rag"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LLMConfig configures the chat provider and the per-task model names.
type LLMConfig struct {
	Provider string       `json:"provider"` // nebius, openai, ollama, custom
	BaseURL  string       `json:"base_url"`
	Model    string       `json:"model"`
	APIKey   string       `json:"api_key,omitempty"`
	TimeoutS float64      `json:"timeout_s"`
	Models   ModelsConfig `json:"models"`
}

// ModelsConfig names the model used for each task. Empty fields fall
// back to LLMConfig.Model.
type ModelsConfig struct {
	Classification   string `json:"classification"`
	DeviceControl    string `json:"device_control"`
	EnergyEfficiency string `json:"energy_efficiency"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"name"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key,omitempty"`
}

// PathsConfig holds filesystem locations for persisted state.
type PathsConfig struct {
	IndexDir    string `json:"index_dir"`     // vector index + chunks.jsonl + manifest.json
	DBPath      string `json:"db_path"`       // cloud SQLite (feedback + eval queue)
	SeedDataDir string `json:"seed_data_dir"` // source documents for ingestion
	UserDataDir string `json:"user_data_dir"` // conversations, feedback files, digest tracking
	PromptDir   string `json:"prompt_dir"`    // system prompt text files
}

// RetrievalConfig is frozen at engine build time.
type RetrievalConfig struct {
	Mode                  string       `json:"mode"` // semantic or hybrid
	SemanticK             int          `json:"semantic_k"`
	KeywordK              int          `json:"keyword_k"`
	DefaultTopK           int          `json:"default_top_k"`
	AllowGeneralKnowledge bool         `json:"allow_general_knowledge"`
	Fusion                FusionConfig `json:"fusion"`
}

// FusionConfig holds the weighted rank fusion parameters.
type FusionConfig struct {
	Alpha float64 `json:"alpha"` // semantic weight in [0,1]
}

// RerankConfig controls the optional LLM-as-judge rerank stage.
type RerankConfig struct {
	Enabled      bool `json:"enabled"`
	TopN         int  `json:"top_n"`
	TimeoutMS    int  `json:"timeout_ms"`
	PreviewChars int  `json:"preview_chars"`
	BatchSize    int  `json:"batch_size"`
}

// FeatureConfig holds feature toggles.
type FeatureConfig struct {
	EnergyEfficiencyRAGEnabled bool `json:"energy_efficiency_rag_enabled"`
}

// CloudRAGConfig points the edge tier at the cloud RAG endpoint.
type CloudRAGConfig struct {
	BaseURL  string  `json:"base_url"`
	TimeoutS float64 `json:"timeout_s"`
}

// DefaultConfig returns a Config with sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
		LLM: LLMConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "llama3.1:8b",
			TimeoutS: 30,
		},
		Embeddings: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Paths: PathsConfig{
			IndexDir:    "data/index",
			DBPath:      "data/db.sqlite",
			SeedDataDir: "data/seed",
			UserDataDir: "user_data",
			PromptDir:   "config/prompts",
		},
		Retrieval: RetrievalConfig{
			Mode:        "hybrid",
			SemanticK:   6,
			KeywordK:    6,
			DefaultTopK: 3,
			Fusion:      FusionConfig{Alpha: 0.6},
		},
		Rerank: RerankConfig{
			TopN:         10,
			TimeoutMS:    3500,
			PreviewChars: 600,
			BatchSize:    8,
		},
		Features: FeatureConfig{EnergyEfficiencyRAGEnabled: true},
		CloudRAG: CloudRAGConfig{
			BaseURL:  "http://localhost:8001",
			TimeoutS: 1.5,
		},
	}
}

// LoadConfig reads a JSON config file on top of the defaults and applies
// environment overrides for secrets.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv resolves provider API keys from well-known environment
// variables. Keys are read once at boot and never logged.
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKeyFromEnv(c.LLM.Provider)
	}
	if c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = providerKeyFromEnv(c.Embeddings.Provider)
	}
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "nebius":
		return os.Getenv("NEBIUS_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate checks provider names and required secrets. Called once at
// startup; failures are fatal.
func (c *Config) Validate() error {
	for _, p := range []string{c.LLM.Provider, c.Embeddings.Provider} {
		switch p {
		case "nebius", "openai":
		case "ollama", "custom":
			continue
		default:
			return fmt.Errorf("%w: %q", ErrUnknownProvider, p)
		}
	}
	if (c.LLM.Provider == "nebius" || c.LLM.Provider == "openai") && c.LLM.APIKey == "" {
		return fmt.Errorf("%w: set %s_API_KEY", ErrMissingAPIKey, envPrefix(c.LLM.Provider))
	}
	if (c.Embeddings.Provider == "nebius" || c.Embeddings.Provider == "openai") && c.Embeddings.APIKey == "" {
		return fmt.Errorf("%w: set %s_API_KEY", ErrMissingAPIKey, envPrefix(c.Embeddings.Provider))
	}
	if c.Retrieval.Fusion.Alpha < 0 || c.Retrieval.Fusion.Alpha > 1 {
		return fmt.Errorf("%w: fusion alpha must be in [0,1]", ErrInvalidConfig)
	}
	switch c.Retrieval.Mode {
	case "semantic", "hybrid":
	default:
		return fmt.Errorf("%w: retrieval mode must be semantic or hybrid", ErrInvalidConfig)
	}
	return nil
}

func envPrefix(provider string) string {
	if provider == "nebius" {
		return "NEBIUS"
	}
	return "OPENAI"
}

// ModelFor returns the model name for a task, falling back to the
// default chat model.
func (c *LLMConfig) ModelFor(task string) string {
	var m string
	switch task {
	case "classification":
		m = c.Models.Classification
	case "device_control":
		m = c.Models.DeviceControl
	case "energy_efficiency":
		m = c.Models.EnergyEfficiency
	}
	if m == "" {
		m = c.Model
	}
	return m
}

// PromptPath resolves a prompt file inside the configured prompt directory.
func (c *PathsConfig) PromptPath(name string) string {
	return filepath.Join(c.PromptDir, name)
}
