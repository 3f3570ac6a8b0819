package ai

import (
	"errors"
	"time"

	"github.com/hrygo/calliope/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	Embedding EmbeddingConfig
	LLM       LLMConfig
	Retry     RetryConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // siliconflow, openai, ollama, gemini
	Model      string // BAAI/bge-m3
	Dimensions int    // 1024, 0 lets the backend decide
	APIKey     string
	BaseURL    string
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // deepseek, openai, siliconflow, anthropic, gemini
	Model       string // deepseek-chat
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
}

// RetryConfig bounds how often a failed LLM call is retried.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
		Retry: RetryConfig{
			MaxAttempts:    p.RetryMaxAttempts,
			InitialBackoff: p.RetryInitialBackoff,
			MaxBackoff:     p.RetryMaxBackoff,
		},
	}

	// Embedding configuration
	cfg.Embedding = EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		Dimensions: 1024,
	}

	switch p.AIEmbeddingProvider {
	case "siliconflow":
		cfg.Embedding.APIKey = p.AISiliconFlowAPIKey
		cfg.Embedding.BaseURL = p.AISiliconFlowBaseURL
	case "openai":
		cfg.Embedding.APIKey = p.AIOpenAIAPIKey
		cfg.Embedding.BaseURL = p.AIOpenAIBaseURL
	case "ollama":
		cfg.Embedding.BaseURL = p.AIOllamaBaseURL
		cfg.Embedding.Dimensions = 0
	case "gemini":
		cfg.Embedding.APIKey = p.AIGeminiAPIKey
		cfg.Embedding.Dimensions = 0
	}

	// LLM configuration
	cfg.LLM = LLMConfig{
		Provider:    p.AILLMProvider,
		Model:       p.AILLMModel,
		MaxTokens:   2048,
		Temperature: 0.7,
	}

	switch p.AILLMProvider {
	case "deepseek":
		cfg.LLM.APIKey = p.AIDeepSeekAPIKey
		cfg.LLM.BaseURL = p.AIDeepSeekBaseURL
	case "openai":
		cfg.LLM.APIKey = p.AIOpenAIAPIKey
		cfg.LLM.BaseURL = p.AIOpenAIBaseURL
	case "siliconflow":
		cfg.LLM.APIKey = p.AISiliconFlowAPIKey
		cfg.LLM.BaseURL = p.AISiliconFlowBaseURL
	case "anthropic":
		cfg.LLM.APIKey = p.AIAnthropicAPIKey
	case "gemini":
		cfg.LLM.APIKey = p.AIGeminiAPIKey
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}

	if c.LLM.APIKey == "" {
		return errors.New("LLM API key is required")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}

	return nil
}
