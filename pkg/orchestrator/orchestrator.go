package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/config"
	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/internal/tracing"
	"github.com/inkwell/vellum/pkg/appstate"
	"github.com/inkwell/vellum/pkg/assembler"
	"github.com/inkwell/vellum/pkg/eventbus"
	"github.com/inkwell/vellum/pkg/llmsession"
	"github.com/inkwell/vellum/pkg/tooldispatch"
)

// Status is the orchestrator's lifecycle state.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusIdle          Status = "idle"
	StatusThinking      Status = "thinking"
	StatusError         Status = "error"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one visible chat history entry.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCallSummary records the most recent tool execution outcome.
type ToolCallSummary struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// State is the caller-visible snapshot of the orchestrator.
type State struct {
	Status       Status           `json:"status"`
	LastError    string           `json:"last_error,omitempty"`
	LastToolCall *ToolCallSummary `json:"last_tool_call,omitempty"`
	IsProcessing bool             `json:"is_processing"`
}

// SessionManager creates and replaces model sessions.
type SessionManager interface {
	CreateSession(ctx context.Context, p llmsession.CreateParams) (llmsession.Session, error)
	Drifted(snap appstate.Snapshot) bool
}

// ContextBuilder assembles the budgeted context block for a turn.
type ContextBuilder interface {
	Assemble(ctx context.Context, snap appstate.Snapshot, projectID string, profile assembler.Profile) (assembler.Result, error)
}

// PatchSource supplies the pending event-delta block for the next prompt.
type PatchSource interface {
	FormatPatchesForPrompt(maxPatches int) (string, bool)
}

// ToolRunner executes a round's tool batch.
type ToolRunner interface {
	DispatchBatch(ctx context.Context, calls []tooldispatch.CallRequest, deps *tooldispatch.Dependencies, projectID string) []tooldispatch.ToolResult
}

// Config holds orchestrator configuration
type Config struct {
	Sessions   SessionManager
	Assembler  ContextBuilder
	Dispatcher ToolRunner
	AppState   appstate.Provider
	// Events is optional; no delta block is added when nil
	Events PatchSource
	// Bus is optional; state changes are published when set
	Bus *eventbus.Bus
	// Deps is the action bundle passed to every tool execution
	Deps    *tooldispatch.Dependencies
	Persona config.PersonaConfig
	// MessageLimit caps visible history (default 50)
	MessageLimit int
	// MaxToolRounds caps model round-trips per turn (default 5)
	MaxToolRounds int
	// AutoReinit recreates the session when the dependency signature drifts
	AutoReinit bool
	// MaxPatches caps the event-delta block per prompt (default 8)
	MaxPatches int
	// OnRoundStart, if set, is invoked before each tool batch is sent back
	// to the model. Callers use it to surface a thinking indicator.
	OnRoundStart func(round int)
	Logger       zerolog.Logger
}

// Orchestrator is the state machine and loop driver for one assistant
// instance. All state is owned here; nothing else writes it.
type Orchestrator struct {
	sessions     SessionManager
	assembler    ContextBuilder
	dispatcher   ToolRunner
	appState     appstate.Provider
	events       PatchSource
	bus          *eventbus.Bus
	deps         *tooldispatch.Dependencies
	messageLimit int
	maxRounds    int
	autoReinit   bool
	maxPatches   int
	onRoundStart func(round int)
	logger       zerolog.Logger

	mu      sync.Mutex
	state   State
	history []Message
	session llmsession.Session
	persona config.PersonaConfig
	// turnSeq identifies the turn that owns cancelTurn and the Thinking
	// state. An aborted turn that is still unwinding compares its own
	// sequence against this before touching shared state.
	turnSeq    uint64
	cancelTurn context.CancelFunc
}

// New creates an Orchestrator
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.Assembler == nil {
		return nil, errors.New("context assembler is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if cfg.AppState == nil {
		return nil, errors.New("app state provider is required")
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 50
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if cfg.MaxPatches <= 0 {
		cfg.MaxPatches = 8
	}

	return &Orchestrator{
		sessions:     cfg.Sessions,
		assembler:    cfg.Assembler,
		dispatcher:   cfg.Dispatcher,
		appState:     cfg.AppState,
		events:       cfg.Events,
		bus:          cfg.Bus,
		deps:         cfg.Deps,
		persona:      cfg.Persona,
		messageLimit: cfg.MessageLimit,
		maxRounds:    cfg.MaxToolRounds,
		autoReinit:   cfg.AutoReinit,
		maxPatches:   cfg.MaxPatches,
		onRoundStart: cfg.OnRoundStart,
		logger:       cfg.Logger.With().Str("component", "orchestrator").Logger(),
		state:        State{Status: StatusUninitialized},
	}, nil
}

// State returns a copy of the current orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.state
	if o.state.LastToolCall != nil {
		lt := *o.state.LastToolCall
		st.LastToolCall = &lt
	}
	return st
}

// History returns a copy of the visible chat history.
func (o *Orchestrator) History() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, len(o.history))
	copy(out, o.history)
	return out
}

// Persona returns the active persona.
func (o *Orchestrator) Persona() config.PersonaConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persona
}

// Initialize builds the first session from current application state and
// runs the silent initialization turn. On success the orchestrator is Idle.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Status == StatusThinking || o.state.Status == StatusInitializing {
		o.mu.Unlock()
		return errors.New("orchestrator is busy")
	}
	o.setStatusLocked(StatusInitializing)
	persona := o.persona
	o.mu.Unlock()

	return o.createSession(ctx, persona, llmsession.ReasonInit)
}

// Reset discards the current session and builds a fresh one.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Status == StatusThinking {
		o.mu.Unlock()
		return errors.New("cannot reset while a turn is in flight")
	}
	o.setStatusLocked(StatusInitializing)
	persona := o.persona
	o.mu.Unlock()

	return o.createSession(ctx, persona, llmsession.ReasonReset)
}

// SetPersona switches personas: a fresh session is created and a visible
// notice is appended to history.
func (o *Orchestrator) SetPersona(ctx context.Context, persona config.PersonaConfig) error {
	o.mu.Lock()
	if o.state.Status == StatusThinking {
		o.mu.Unlock()
		return errors.New("cannot switch persona while a turn is in flight")
	}
	o.setStatusLocked(StatusInitializing)
	o.persona = persona
	o.mu.Unlock()

	if err := o.createSession(ctx, persona, llmsession.ReasonPersonaChange); err != nil {
		return err
	}

	o.mu.Lock()
	o.appendLocked(Message{Role: RoleModel, Text: fmt.Sprintf("Switched to %s", persona.Name), Timestamp: time.Now()})
	o.mu.Unlock()

	return nil
}

// NotifyContextChanged recreates the session if the dependency signature has
// drifted. With AutoReinit disabled the drift is ignored.
func (o *Orchestrator) NotifyContextChanged(ctx context.Context) error {
	if !o.autoReinit {
		return nil
	}

	o.mu.Lock()
	if o.state.Status != StatusIdle && o.state.Status != StatusError {
		o.mu.Unlock()
		return nil
	}
	persona := o.persona
	o.mu.Unlock()

	if !o.sessions.Drifted(o.appState.Snapshot()) {
		return nil
	}

	o.logger.Info().Msg("Context drift detected, reinitializing session")

	o.mu.Lock()
	o.setStatusLocked(StatusInitializing)
	o.mu.Unlock()

	return o.createSession(ctx, persona, llmsession.ReasonDrift)
}

// Abort cancels the in-flight turn, if any. The turn ends silently.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancelTurn != nil {
		o.logger.Info().Msg("Aborting in-flight turn")
		o.cancelTurn()
		o.cancelTurn = nil
		observability.RecordTurnAbort()
	}

	o.state.IsProcessing = false
	o.setStatusLocked(StatusIdle)
}

// createSession asks the lifecycle manager for a fresh handle and settles
// the state machine.
func (o *Orchestrator) createSession(ctx context.Context, persona config.PersonaConfig, reason string) error {
	snap := o.appState.Snapshot()

	session, err := o.sessions.CreateSession(ctx, llmsession.CreateParams{
		Persona:         persona,
		Snapshot:        snap,
		MemoryAvailable: len(snap.MemoryNotes) > 0,
		Reason:          reason,
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	if err != nil {
		o.state.LastError = err.Error()
		o.setStatusLocked(StatusError)
		return fmt.Errorf("session creation failed: %w", err)
	}

	o.session = session
	o.state.LastError = ""
	o.setStatusLocked(StatusIdle)

	return nil
}

// SendMessage runs one full turn. Whitespace-only input is a no-op, as is a
// call while another turn is Thinking.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	o.mu.Lock()
	if o.state.Status == StatusThinking {
		o.mu.Unlock()
		o.logger.Debug().Msg("Ignoring message while a turn is in flight")
		return nil
	}
	if o.session == nil {
		o.mu.Unlock()
		return errors.New("orchestrator is not initialized")
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.turnSeq++
	gen := o.turnSeq
	o.cancelTurn = cancel
	o.appendLocked(Message{Role: RoleUser, Text: trimmed, Timestamp: time.Now()})
	o.state.IsProcessing = true
	o.setStatusLocked(StatusThinking)
	session := o.session
	persona := o.persona
	o.mu.Unlock()

	turnCtx = tracing.NewTurnContext(turnCtx, o.appState.Snapshot().ProjectID)
	logger := tracing.LoggerFromContext(turnCtx, o.logger)
	startTime := time.Now()

	// Drift check at turn start. A failed reinit keeps the existing handle;
	// the turn proceeds either way.
	if o.autoReinit && o.sessions.Drifted(o.appState.Snapshot()) {
		logger.Info().Msg("Dependency signature drifted, recreating session before turn")
		snap := o.appState.Snapshot()
		fresh, err := o.sessions.CreateSession(turnCtx, llmsession.CreateParams{
			Persona:         persona,
			Snapshot:        snap,
			MemoryAvailable: len(snap.MemoryNotes) > 0,
			Reason:          llmsession.ReasonDrift,
		})
		if err == nil {
			o.mu.Lock()
			o.session = fresh
			session = fresh
			o.mu.Unlock()
		} else {
			logger.Warn().Err(err).Msg("Drift reinit failed, continuing with existing session")
		}
	}

	composed := o.composePrompt(turnCtx, trimmed, logger)

	resp, err := session.Send(turnCtx, llmsession.Request{Message: composed})
	if err != nil {
		return o.finishTurn(turnCtx, gen, nil, false, 0, startTime, err)
	}

	resp, toolRan, rounds, err := o.runToolLoop(turnCtx, session, resp, logger)
	return o.finishTurn(turnCtx, gen, resp, toolRan, rounds, startTime, err)
}

// composePrompt builds the full message for the model: budgeted context (or
// the raw fallback), the pending event delta, then the user's literal text.
func (o *Orchestrator) composePrompt(ctx context.Context, userText string, logger zerolog.Logger) string {
	snap := o.appState.Snapshot()

	var contextBlock string
	result, err := o.assembler.Assemble(ctx, snap, snap.ProjectID, assembler.Profile{
		Mode:      "chat",
		QueryType: userText,
	})
	if err != nil {
		// The fallback path must never fail: raw selection if present, else
		// the full manuscript text.
		logger.Warn().Err(err).Msg("Context assembly failed, using fallback context")
		observability.RecordContextFallback()
		contextBlock = fallbackContext(snap)
	} else {
		contextBlock = result.Context
	}

	var b strings.Builder
	if contextBlock != "" {
		b.WriteString(contextBlock)
		b.WriteString("\n\n")
	}

	if o.events != nil {
		if delta, ok := o.events.FormatPatchesForPrompt(o.maxPatches); ok {
			b.WriteString(delta)
			b.WriteString("\n")
		}
	}

	b.WriteString(userText)
	return b.String()
}

// fallbackContext derives a minimal context without the assembler.
func fallbackContext(snap appstate.Snapshot) string {
	if snap.Selection.Text != "" {
		return "Current selection:\n" + snap.Selection.Text
	}
	return snap.Manuscript.FullText()
}

// finishTurn settles history and state for every turn outcome: cancelled,
// errored, or completed. Only the turn that still owns the current sequence
// may settle; an aborted turn superseded by a newer one drops its result
// without touching state.
func (o *Orchestrator) finishTurn(ctx context.Context, gen uint64, resp *llmsession.Response, toolRan bool, rounds int, startTime time.Time, err error) error {
	duration := time.Since(startTime)

	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.turnSeq {
		observability.RecordTurn("cancelled", duration, rounds)
		o.logger.Info().Int("rounds", rounds).Msg("Superseded turn discarded")
		return nil
	}

	o.cancelTurn = nil
	o.state.IsProcessing = false

	// Cancelled turns end silently: nothing appended, no error recorded.
	if ctx.Err() != nil {
		o.setStatusLocked(StatusIdle)
		observability.RecordTurn("cancelled", duration, rounds)
		o.logger.Info().Int("rounds", rounds).Msg("Turn cancelled")
		return nil
	}

	if err != nil {
		o.state.LastError = err.Error()
		o.appendLocked(Message{
			Role:      RoleModel,
			Text:      fmt.Sprintf("Sorry, I encountered an error: %s", err.Error()),
			Timestamp: time.Now(),
		})
		o.setStatusLocked(StatusError)
		observability.RecordTurn("error", duration, rounds)
		o.logger.Error().Err(err).Int("rounds", rounds).Msg("Turn failed")
		return err
	}

	text := resp.Text
	if text == "" && toolRan {
		text = "Done."
	}
	if text != "" {
		o.appendLocked(Message{Role: RoleModel, Text: text, Timestamp: time.Now()})
	}

	o.state.LastError = ""
	o.setStatusLocked(StatusIdle)
	observability.RecordTurn("completed", duration, rounds)
	o.logger.Info().Int("rounds", rounds).Dur("duration", duration).Msg("Turn completed")

	return nil
}

// appendLocked appends to history and prunes oldest-first to the limit. The
// entry just appended is always retained. Caller holds the lock.
func (o *Orchestrator) appendLocked(msg Message) {
	o.history = append(o.history, msg)
	if len(o.history) > o.messageLimit {
		o.history = o.history[len(o.history)-o.messageLimit:]
	}
	observability.SetHistoryLength(len(o.history))
}

// setStatusLocked transitions the state machine and announces the change.
// Caller holds the lock.
func (o *Orchestrator) setStatusLocked(status Status) {
	if o.state.Status == status {
		return
	}

	o.state.Status = status

	if o.bus != nil {
		o.bus.PublishType(eventbus.StateChanged, map[string]interface{}{
			"status": string(status),
		})
	}
}
