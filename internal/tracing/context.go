package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for turn ID
	TurnIDKey ContextKey = "turn_id"
	// ProjectIDKey is the context key for project ID
	ProjectIDKey ContextKey = "project_id"
	// PersonaKey is the context key for the active persona name
	PersonaKey ContextKey = "persona"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TurnID    string
	ProjectID string
	Persona   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithProjectID adds a project ID to the context
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, ProjectIDKey, projectID)
}

// WithPersona adds the active persona name to the context
func WithPersona(ctx context.Context, persona string) context.Context {
	return context.WithValue(ctx, PersonaKey, persona)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok {
		return turnID
	}
	return ""
}

// GetProjectID retrieves the project ID from the context
func GetProjectID(ctx context.Context) string {
	if projectID, ok := ctx.Value(ProjectIDKey).(string); ok {
		return projectID
	}
	return ""
}

// GetPersona retrieves the active persona name from the context
func GetPersona(ctx context.Context) string {
	if persona, ok := ctx.Value(PersonaKey).(string); ok {
		return persona
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TurnID:    GetTurnID(ctx),
		ProjectID: GetProjectID(ctx),
		Persona:   GetPersona(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TurnID != "" {
		ctx = WithTurnID(ctx, tc.TurnID)
	}
	if tc.ProjectID != "" {
		ctx = WithProjectID(ctx, tc.ProjectID)
	}
	if tc.Persona != "" {
		ctx = WithPersona(ctx, tc.Persona)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTurnContext creates a new context for one orchestrator turn
func NewTurnContext(ctx context.Context, projectID string) context.Context {
	ctx = WithTurnID(ctx, NewTurnID())
	if projectID != "" {
		ctx = WithProjectID(ctx, projectID)
	}
	return ctx
}

// LoggerFromContext attaches the context's tracing fields to a logger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		logCtx = logCtx.Str("turn_id", tc.TurnID)
	}
	if tc.ProjectID != "" {
		logCtx = logCtx.Str("project_id", tc.ProjectID)
	}
	if tc.Persona != "" {
		logCtx = logCtx.Str("persona", tc.Persona)
	}

	return logCtx.Logger()
}
