package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Vellum runtime configuration
type Config struct {
	// Orchestrator behavior
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Context assembly budget
	Context ContextConfig `json:"context" mapstructure:"context"`

	// Context event streamer
	Events EventsConfig `json:"events" mapstructure:"events"`

	// Personas selectable at session creation
	Personas []PersonaConfig `json:"personas" mapstructure:"personas"`

	// Model provider settings
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Command history sink
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// State gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Background maintenance jobs
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// OrchestratorConfig holds orchestrator loop settings
type OrchestratorConfig struct {
	MessageLimit  int  `json:"message_limit" mapstructure:"message_limit"`
	MaxToolRounds int  `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	AutoReinit    bool `json:"auto_reinit" mapstructure:"auto_reinit"`
}

// ContextConfig holds the token budget for the context assembler
type ContextConfig struct {
	TokenBudget int                `json:"token_budget" mapstructure:"token_budget"`
	Proportions map[string]float64 `json:"proportions" mapstructure:"proportions"`
}

// EventsConfig holds context event streamer settings
type EventsConfig struct {
	MaxQueue   int `json:"max_queue" mapstructure:"max_queue"`
	MaxPatches int `json:"max_patches" mapstructure:"max_patches"`
}

// PersonaConfig names a persona and its system instructions
type PersonaConfig struct {
	Name         string `json:"name" mapstructure:"name"`
	Role         string `json:"role" mapstructure:"role"` // editor, muse, critic, researcher
	Instructions string `json:"instructions" mapstructure:"instructions"`
}

// ModelsConfig holds provider and model settings
type ModelsConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// HistoryConfig holds command history settings
type HistoryConfig struct {
	Limit int    `json:"limit" mapstructure:"limit"`
	Path  string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds the state gateway server configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// MaintenanceConfig holds background job settings. Schedules use standard
// five-field cron expressions.
type MaintenanceConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	CompactSchedule string `json:"compact_schedule" mapstructure:"compact_schedule"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	DriftSchedule   string `json:"drift_schedule" mapstructure:"drift_schedule"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MessageLimit:  50,
			MaxToolRounds: 5,
			AutoReinit:    true,
		},
		Context: ContextConfig{
			TokenBudget: 8000,
			Proportions: map[string]float64{
				"manuscript":   0.35,
				"intelligence": 0.15,
				"analysis":     0.15,
				"memory":       0.10,
				"lore":         0.15,
				"history":      0.10,
			},
		},
		Events: EventsConfig{
			MaxQueue:   32,
			MaxPatches: 8,
		},
		Personas: []PersonaConfig{
			{
				Name:         "Editor",
				Role:         "editor",
				Instructions: "You are a meticulous manuscript editor. Prefer small, precise edits.",
			},
		},
		Models: ModelsConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		History: HistoryConfig{
			Limit: 50,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8790,
		},
		Maintenance: MaintenanceConfig{
			Enabled:         true,
			CompactSchedule: "0 3 * * *",
			RetentionDays:   30,
			DriftSchedule:   "*/5 * * * *",
		},
	}
}

// String returns the config as JSON with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Models.APIKey != "" {
		masked.Models.APIKey = "***"
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}

// PersonaByName returns the persona config with the given name, or nil
func (c *Config) PersonaByName(name string) *PersonaConfig {
	for i := range c.Personas {
		if c.Personas[i].Name == name {
			return &c.Personas[i]
		}
	}
	return nil
}
