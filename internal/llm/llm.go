package llm

import (
	"context"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response modes. Structured mode asks the service for machine-readable
// output; callers must still parse defensively because services may ignore
// the hint and answer with prose or fenced blocks.
const (
	ModeText       = "text"
	ModeStructured = "structured"
)

type Request struct {
	Model    string
	Messages []Message
	// Temperature is optional; nil lets the service apply its own default.
	// An explicit 0 is forwarded, so deterministic stages get what they ask.
	Temperature     *float64
	MaxOutputTokens int
	ResponseMode    string
}

func Temperature(v float64) *float64 {
	return &v
}

type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Config struct {
	Mode         string
	Provider     string
	Model        string
	BaseURL      string
	OpenAIAPIKey string
}

func NewProvider(cfg Config) (Provider, error) {
	if cfg.Mode == "local" {
		return LocalProvider{}, nil
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
