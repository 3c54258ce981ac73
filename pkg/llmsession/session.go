// Package llmsession manages model conversations: the provider-neutral
// Session contract, the Anthropic and OpenAI providers behind it, and the
// lifecycle manager that decides when a session must be recreated.
package llmsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SessionConfig configures a provider-backed session.
type SessionConfig struct {
	Provider     Provider
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Tools        []ToolSpec
	Logger       zerolog.Logger
}

// ProviderSession is a Session backed by a stateless HTTP provider. The
// conversation transcript lives here; every Send replays it.
type ProviderSession struct {
	provider     Provider
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	tools        []ToolSpec
	logger       zerolog.Logger

	mu       sync.Mutex
	messages []Message
}

// NewSession creates a provider-backed session
func NewSession(cfg SessionConfig) (*ProviderSession, error) {
	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &ProviderSession{
		provider:     cfg.Provider,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		logger:       cfg.Logger.With().Str("component", "llmsession").Str("provider", cfg.Provider.Provider()).Logger(),
	}, nil
}

// Send delivers one request and returns the model's reply. The request must
// carry either user text or function responses, not both and not neither.
func (s *ProviderSession) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Message == "" && len(req.FunctionResponses) == 0 {
		return nil, errors.New("request must carry a message or function responses")
	}
	if req.Message != "" && len(req.FunctionResponses) > 0 {
		return nil, errors.New("request cannot carry both a message and function responses")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Message != "" {
		s.messages = append(s.messages, Message{Role: "user", Content: req.Message})
	} else {
		for _, fr := range req.FunctionResponses {
			content, err := json.Marshal(fr.Response)
			if err != nil {
				return nil, fmt.Errorf("failed to encode function response for %s: %w", fr.Name, err)
			}
			s.messages = append(s.messages, Message{
				Role:       "tool",
				Content:    string(content),
				ToolCallID: fr.ID,
			})
		}
	}

	resp, err := s.provider.Call(ctx, CallRequest{
		Model:        s.model,
		Messages:     s.messages,
		Tools:        s.tools,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		SystemPrompt: s.systemPrompt,
	})
	if err != nil {
		// Drop the unanswered entries so a retry does not double them.
		if req.Message != "" {
			s.messages = s.messages[:len(s.messages)-1]
		} else {
			s.messages = s.messages[:len(s.messages)-len(req.FunctionResponses)]
		}
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	s.messages = append(s.messages, Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	if resp.Usage != nil {
		s.logger.Debug().
			Int("input_tokens", resp.Usage.InputTokens).
			Int("output_tokens", resp.Usage.OutputTokens).
			Int("transcript_len", len(s.messages)).
			Msg("Model round-trip completed")
	}

	return &Response{
		Text:          resp.Content,
		FunctionCalls: resp.ToolCalls,
	}, nil
}

// TranscriptLength returns the number of transcript entries, including the
// silent initialization exchange.
func (s *ProviderSession) TranscriptLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
