package llmsession

import "context"

// FunctionCall is a model-requested tool invocation.
type FunctionCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// FunctionResponsePart carries one tool outcome back to the model.
type FunctionResponsePart struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Request is one message to the session: either user text or a batch of
// function responses, never both.
type Request struct {
	Message           string                 `json:"message,omitempty"`
	FunctionResponses []FunctionResponsePart `json:"function_responses,omitempty"`
}

// Response is the model's reply for one round-trip.
type Response struct {
	Text          string         `json:"text,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
}

// Session is an active model conversation. Implementations keep their own
// transcript; callers only exchange one request for one response.
type Session interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// ToolSpec declares a tool to the model provider.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Message is one transcript entry in provider-neutral form.
type Message struct {
	Role       string         `json:"role"` // user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []FunctionCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// CallRequest contains the parameters for one provider round-trip.
type CallRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// CallResponse contains the provider's reply.
type CallResponse struct {
	Content   string
	ToolCalls []FunctionCall
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
