package config

import (
	"fmt"
	"math"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a full config and applies defaults to zero values
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Orchestrator.MessageLimit <= 0 {
		cfg.Orchestrator.MessageLimit = 50
	}
	if cfg.Orchestrator.MaxToolRounds <= 0 {
		cfg.Orchestrator.MaxToolRounds = 5
	}

	if cfg.Context.TokenBudget <= 0 {
		cfg.Context.TokenBudget = 8000
	}
	if err := v.ValidateProportions(cfg.Context.Proportions); err != nil {
		return err
	}

	if cfg.Events.MaxQueue <= 0 {
		cfg.Events.MaxQueue = 32
	}
	if cfg.Events.MaxPatches <= 0 {
		cfg.Events.MaxPatches = 8
	}

	if cfg.History.Limit <= 0 {
		cfg.History.Limit = 50
	}

	if err := v.ValidateTemperature(cfg.Models.Temperature); err != nil {
		return err
	}

	for i := range cfg.Personas {
		if err := v.ValidatePersona(cfg.Personas[i]); err != nil {
			return fmt.Errorf("persona %d: %w", i, err)
		}
	}

	return nil
}

// ValidateProportions checks budget proportions sum to roughly 1
func (v *Validator) ValidateProportions(proportions map[string]float64) error {
	if len(proportions) == 0 {
		return nil // assembler falls back to its defaults
	}

	sum := 0.0
	for section, p := range proportions {
		if p < 0 {
			return fmt.Errorf("proportion for section %q cannot be negative", section)
		}
		sum += p
	}

	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("context proportions must sum to 1.0, got %.2f", sum)
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	default:
		return fmt.Errorf("unsupported provider: %s (must be anthropic or openai)", provider)
	}
}

// ValidatePersona validates a persona configuration
func (v *Validator) ValidatePersona(p PersonaConfig) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona name cannot be empty")
	}

	if p.Role == "" {
		return nil // role is optional
	}

	validRoles := []string{"editor", "muse", "critic", "researcher"}
	for _, valid := range validRoles {
		if p.Role == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid persona role: %s (must be one of: %s)", p.Role, strings.Join(validRoles, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}
