package llmsession

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records calls and plays back scripted responses.
type fakeProvider struct {
	responses []*CallResponse
	err       error
	calls     []CallRequest
}

func (f *fakeProvider) Provider() string { return "fake" }

func (f *fakeProvider) Call(ctx context.Context, req CallRequest) (*CallResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		return &CallResponse{Content: "out of script"}, nil
	}
	return f.responses[idx], nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
}

func newTestSession(t *testing.T, provider Provider) *ProviderSession {
	t.Helper()

	s, err := NewSession(SessionConfig{
		Provider: provider,
		Model:    "test-model",
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	t.Run("should require a provider", func(t *testing.T) {
		_, err := NewSession(SessionConfig{Model: "m"})
		assert.Error(t, err)
	})

	t.Run("should require a model", func(t *testing.T) {
		_, err := NewSession(SessionConfig{Provider: &fakeProvider{}})
		assert.Error(t, err)
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("should return text and function calls", func(t *testing.T) {
		provider := &fakeProvider{responses: []*CallResponse{
			{Content: "Hello", ToolCalls: []FunctionCall{{ID: "t1", Name: "echo", Args: map[string]interface{}{"text": "hi"}}}},
		}}
		s := newTestSession(t, provider)

		resp, err := s.Send(ctx, Request{Message: "Hi there"})
		require.NoError(t, err)

		assert.Equal(t, "Hello", resp.Text)
		require.Len(t, resp.FunctionCalls, 1)
		assert.Equal(t, "echo", resp.FunctionCalls[0].Name)
	})

	t.Run("should accumulate the transcript across sends", func(t *testing.T) {
		provider := &fakeProvider{responses: []*CallResponse{
			{Content: "one"}, {Content: "two"},
		}}
		s := newTestSession(t, provider)

		_, err := s.Send(ctx, Request{Message: "first"})
		require.NoError(t, err)
		_, err = s.Send(ctx, Request{Message: "second"})
		require.NoError(t, err)

		// user, assistant, user, assistant
		assert.Equal(t, 4, s.TranscriptLength())

		// The second call replays the whole conversation.
		require.Len(t, provider.calls, 2)
		assert.Len(t, provider.calls[1].Messages, 3)
		assert.Equal(t, "first", provider.calls[1].Messages[0].Content)
		assert.Equal(t, "one", provider.calls[1].Messages[1].Content)
	})

	t.Run("should encode function responses as tool messages", func(t *testing.T) {
		provider := &fakeProvider{responses: []*CallResponse{{Content: "done"}}}
		s := newTestSession(t, provider)

		_, err := s.Send(ctx, Request{FunctionResponses: []FunctionResponsePart{
			{ID: "t1", Name: "echo", Response: map[string]interface{}{"success": true, "message": "hi"}},
		}})
		require.NoError(t, err)

		require.Len(t, provider.calls, 1)
		msg := provider.calls[0].Messages[0]
		assert.Equal(t, "tool", msg.Role)
		assert.Equal(t, "t1", msg.ToolCallID)
		assert.Contains(t, msg.Content, `"success":true`)
	})

	t.Run("should reject an empty request", func(t *testing.T) {
		s := newTestSession(t, &fakeProvider{})
		_, err := s.Send(ctx, Request{})
		assert.Error(t, err)
	})

	t.Run("should reject a mixed request", func(t *testing.T) {
		s := newTestSession(t, &fakeProvider{})
		_, err := s.Send(ctx, Request{
			Message:           "hi",
			FunctionResponses: []FunctionResponsePart{{ID: "t1"}},
		})
		assert.Error(t, err)
	})

	t.Run("should not grow the transcript on provider failure", func(t *testing.T) {
		provider := &fakeProvider{err: fmt.Errorf("api down")}
		s := newTestSession(t, provider)

		_, err := s.Send(ctx, Request{Message: "hello"})
		require.Error(t, err)
		assert.Equal(t, 0, s.TranscriptLength())
	})
}
