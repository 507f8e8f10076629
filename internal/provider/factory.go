package provider

import (
	"fmt"
)

// Config contains provider configuration
type Config struct {
	// Provider name: "gemini" or "openai"
	Name string

	// Gemini configuration
	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	// OpenAI-compatible configuration
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	OpenAIEmbeddingModel string
}

// NewProvider creates a provider based on configuration
func NewProvider(cfg *Config) (Provider, error) {
	switch cfg.Name {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini: GEMINI_API_KEY is required")
		}
		p, err := NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbeddingModel)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY is required")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIEmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: gemini, openai)", cfg.Name)
	}
}
