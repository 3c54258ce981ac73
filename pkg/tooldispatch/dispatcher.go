package tooldispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/internal/tracing"
	"github.com/inkwell/vellum/pkg/commandqueue"
	"github.com/inkwell/vellum/pkg/eventbus"
	"github.com/inkwell/vellum/pkg/history"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolHandler is the function signature for tool execution. The returned
// string becomes the result message shown back to the model.
type ToolHandler func(ctx context.Context, params map[string]interface{}, deps *Dependencies) (string, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	// Reversible marks tools whose effect can be undone by the application.
	Reversible bool `json:"reversible"`
}

// ToolResult is the normalized outcome of one dispatch. Success implies
// Message is set; failure implies Error is set. Never both.
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CallRequest is one model-requested tool invocation.
type CallRequest struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Dispatcher resolves tool names to executors and normalizes their outcomes.
type Dispatcher struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	store   *history.Store
	bus     *eventbus.Bus
	queue   *commandqueue.CommandQueue
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a Dispatcher. The store and bus receive an audit record and a
// tool_executed event for every dispatch; queue runs batch calls on the
// tools lane.
func New(store *history.Store, bus *eventbus.Bus, queue *commandqueue.CommandQueue, logger zerolog.Logger) *Dispatcher {
	observability.EnsureRegistered()

	d := &Dispatcher{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		store:   store,
		bus:     bus,
		queue:   queue,
		logger:  logger.With().Str("component", "tooldispatch").Logger(),
	}

	d.logger.Info().Msg("Tool dispatcher initialized")

	return d
}

// Register registers a new tool
func (d *Dispatcher) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tools[def.Name] = &def
	d.schemas[def.Name] = schema

	d.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Unregister removes a tool
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.tools, name)
	delete(d.schemas, name)

	d.logger.Info().Str("tool", name).Msg("Tool unregistered")
}

// Tool returns a tool definition by name, or nil if unknown.
func (d *Dispatcher) Tool(name string) *ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.tools[name]
}

// ListTools returns all registered tool names
func (d *Dispatcher) ListTools() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tools := make([]string, 0, len(d.tools))
	for name := range d.tools {
		tools = append(tools, name)
	}

	return tools
}

// Definitions returns a snapshot of all registered tool definitions.
func (d *Dispatcher) Definitions() []ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(d.tools))
	for _, def := range d.tools {
		defs = append(defs, *def)
	}

	return defs
}

// Dispatch executes one tool call and normalizes the outcome. Unknown tools,
// invalid parameters, executor errors and executor panics all come back as a
// failure result; none of them are fatal to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}, deps *Dependencies, projectID string) ToolResult {
	ctx, span := tracing.StartSpan(
		ctx,
		"vellum.tooldispatch",
		"tooldispatch.dispatch",
		attribute.String("tool", name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", name).Logger()
	startTime := time.Now()

	d.mu.RLock()
	tool := d.tools[name]
	schema := d.schemas[name]
	d.mu.RUnlock()

	var result ToolResult

	switch {
	case tool == nil:
		logger.Error().Msg("Tool not found")
		result = ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}

	default:
		if err := validateParameters(schema, args); err != nil {
			logger.Error().Err(err).Msg("Parameter validation failed")
			result = ToolResult{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err)}
			break
		}

		logger.Debug().Msg("Executing tool")
		result = d.run(ctx, tool, args, deps)
	}

	duration := time.Since(startTime)

	if result.Success {
		logger.Debug().Dur("duration", duration).Msg("Tool execution completed")
	} else {
		span.SetStatus(codes.Error, result.Error)
		logger.Error().Dur("duration", duration).Str("error", result.Error).Msg("Tool execution failed")
	}

	observability.RecordToolExecution(name, duration, result.Success)
	d.record(ctx, name, args, projectID, tool, result)
	d.announce(name, result.Success)

	return result
}

// DispatchBatch executes a round's tool calls and returns one result per
// request, in request order. Calls run concurrently on the tools lane when a
// command queue is configured.
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []CallRequest, deps *Dependencies, projectID string) []ToolResult {
	results := make([]ToolResult, len(calls))

	if d.queue == nil || len(calls) == 1 {
		for i, call := range calls {
			results[i] = d.Dispatch(ctx, call.Name, call.Args, deps, projectID)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneTools, func(taskCtx context.Context) (interface{}, error) {
				return d.Dispatch(taskCtx, call.Name, call.Args, deps, projectID), nil
			})
			if err != nil {
				// The queue rejected the task (lane reset or shutdown).
				results[i] = ToolResult{Success: false, Error: err.Error()}
				return
			}
			results[i] = value.(ToolResult)
		}()
	}
	wg.Wait()

	return results
}

// run invokes the handler with panic recovery. A panicking executor is
// indistinguishable from one that returned an error.
func (d *Dispatcher) run(ctx context.Context, tool *ToolDefinition, args map[string]interface{}, deps *Dependencies) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("tool", tool.Name).Interface("panic", r).Msg("Tool executor panicked")
			result = ToolResult{Success: false, Error: fmt.Sprintf("%v", r)}
		}
	}()

	output, err := tool.Handler(ctx, args, deps)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}
	}

	if output == "" {
		output = "OK"
	}

	return ToolResult{Success: true, Message: output}
}

// record appends the audit entry for a dispatch to the command history.
func (d *Dispatcher) record(ctx context.Context, name string, args map[string]interface{}, projectID string, tool *ToolDefinition, result ToolResult) {
	if d.store == nil {
		return
	}

	outcome := result.Message
	if !result.Success {
		outcome = result.Error
	}

	rec := history.Record{
		SessionID: projectID,
		ToolName:  name,
		Params:    args,
		Result:    outcome,
		Success:   result.Success,
	}
	if tool != nil {
		rec.Reversible = tool.Reversible
	}

	if _, err := d.store.Append(ctx, rec); err != nil {
		d.logger.Warn().Err(err).Str("tool", name).Msg("Failed to record tool execution")
	}
}

// announce publishes the tool_executed event.
func (d *Dispatcher) announce(name string, success bool) {
	if d.bus == nil {
		return
	}

	d.bus.PublishType(eventbus.ToolExecuted, map[string]interface{}{
		"tool":    name,
		"success": success,
	})
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// InputSchemaMap renders the tool's parameters as a JSON-Schema map, the
// shape model providers expect for tool declarations.
func (def ToolDefinition) InputSchemaMap() map[string]interface{} {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return schemaMap
}

// generateJSONSchema compiles the tool's parameter schema for validation
func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaLoader := gojsonschema.NewGoLoader(def.InputSchemaMap())
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, err
	}

	return schema, nil
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}
