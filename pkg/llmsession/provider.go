package llmsession

import (
	"context"
	"fmt"

	"github.com/inkwell/vellum/internal/config"
)

// Provider is an interface for LLM API providers
type Provider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request CallRequest) (*CallResponse, error)

	// Provider returns the provider name
	Provider() string
}

// NewProvider creates an LLM provider from model configuration
func NewProvider(cfg config.ModelsConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
