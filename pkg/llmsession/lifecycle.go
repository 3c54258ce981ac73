package llmsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/config"
	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/pkg/appstate"
)

// Recreation reasons, recorded on the session_recreations metric.
const (
	ReasonInit          = "init"
	ReasonReset         = "reset"
	ReasonPersonaChange = "persona_change"
	ReasonDrift         = "drift"
)

// ManagerConfig configures the session lifecycle manager.
type ManagerConfig struct {
	Provider Provider
	Models   config.ModelsConfig
	Tools    []ToolSpec
	Logger   zerolog.Logger
}

// Manager owns the active session handle. Handles are replaced, never
// mutated: every CreateSession builds a fresh conversation, runs the silent
// initialization turn, and discards the previous handle.
type Manager struct {
	provider Provider
	models   config.ModelsConfig
	tools    []ToolSpec
	logger   zerolog.Logger

	mu        sync.Mutex
	current   Session
	signature appstate.Signature
	persona   config.PersonaConfig
}

// CreateParams describes one session creation.
type CreateParams struct {
	Persona         config.PersonaConfig
	Snapshot        appstate.Snapshot
	MemoryAvailable bool
	// Reason is one of ReasonInit, ReasonReset, ReasonPersonaChange,
	// ReasonDrift.
	Reason string
}

// NewManager creates a session lifecycle manager
func NewManager(cfg ManagerConfig) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Models.Model == "" {
		return nil, errors.New("model is required")
	}

	return &Manager{
		provider: cfg.Provider,
		models:   cfg.Models,
		tools:    cfg.Tools,
		logger:   cfg.Logger.With().Str("component", "lifecycle").Logger(),
	}, nil
}

// CreateSession builds a fresh session, sends the silent initialization
// turn, and installs it as the current handle. The old handle, if any, is
// discarded whether or not creation succeeds on the model side.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (Session, error) {
	if p.Reason == "" {
		p.Reason = ReasonInit
	}

	session, err := NewSession(SessionConfig{
		Provider:     m.provider,
		Model:        m.models.Model,
		Temperature:  m.models.Temperature,
		MaxTokens:    m.models.MaxTokens,
		SystemPrompt: systemPrompt(p.Persona),
		Tools:        m.tools,
		Logger:       m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build session: %w", err)
	}

	// Silent initialization turn. The reply is not surfaced to the user but
	// does occupy the session's transcript.
	if _, err := session.Send(ctx, Request{Message: initMessage(p.Snapshot, p.MemoryAvailable)}); err != nil {
		return nil, fmt.Errorf("session initialization failed: %w", err)
	}

	m.mu.Lock()
	m.current = session
	m.signature = p.Snapshot.Signature()
	m.persona = p.Persona
	m.mu.Unlock()

	m.logger.Info().
		Str("reason", p.Reason).
		Str("persona", p.Persona.Name).
		Str("model", m.models.Model).
		Msg("Session created")

	observability.RecordSessionRecreation(p.Reason)

	return session, nil
}

// Current returns the active session handle, or nil before the first
// CreateSession.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Persona returns the persona the current session was created with.
func (m *Manager) Persona() config.PersonaConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persona
}

// Drifted reports whether the snapshot's dependency signature has changed
// since the current session was created.
func (m *Manager) Drifted(snap appstate.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	return snap.Signature() != m.signature
}

// systemPrompt frames the persona for the model.
func systemPrompt(persona config.PersonaConfig) string {
	if persona.Instructions == "" {
		return "You are a writing assistant embedded in a manuscript editor. Use the provided tools to edit, navigate and analyze the manuscript when the user asks for changes."
	}

	prompt := persona.Instructions
	if persona.Role != "" {
		prompt = fmt.Sprintf("Role: %s.\n%s", persona.Role, persona.Instructions)
	}
	return prompt
}

// initMessage summarizes the loaded project for the silent first turn.
func initMessage(snap appstate.Snapshot, memoryAvailable bool) string {
	activeTitle := "none"
	activeLen := 0
	if active := snap.Manuscript.ActiveChapter(); active != nil {
		activeTitle = active.Title
		activeLen = len(active.Text)
	}

	memoryNote := "no memory context available"
	if memoryAvailable {
		memoryNote = "memory context available"
	}

	return fmt.Sprintf(
		"[Session initialized] Project loaded with %d chapters. Active chapter: %q (%d characters). %s. Acknowledge briefly; do not address the user.",
		len(snap.Manuscript.Chapters), activeTitle, activeLen, memoryNote,
	)
}
