package gateway

import (
	"context"
	"fmt"

	"github.com/inkwell/vellum/internal/config"
	"github.com/inkwell/vellum/pkg/history"
	"github.com/inkwell/vellum/pkg/memory"
	"github.com/inkwell/vellum/pkg/orchestrator"
)

// ChatService is the orchestrator surface exposed over the gateway.
type ChatService interface {
	SendMessage(ctx context.Context, text string) error
	History() []orchestrator.Message
	State() orchestrator.State
	Persona() config.PersonaConfig
	SetPersona(ctx context.Context, persona config.PersonaConfig) error
	Reset(ctx context.Context) error
	Abort()
}

// MemorySearcher is the memory store surface exposed over the gateway.
type MemorySearcher interface {
	Search(ctx context.Context, projectID, query string, limit int) ([]memory.Note, error)
}

// HistoryReader is the tool audit surface exposed over the gateway.
type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, n int) ([]history.Record, error)
}

// registerBuiltinMethods wires the chat, persona, memory, and audit methods.
func (s *Server) registerBuiltinMethods() {
	s.router.RegisterMethod("chat.send", s.handleChatSend)
	s.router.RegisterMethod("chat.history", s.handleChatHistory)
	s.router.RegisterMethod("chat.abort", s.handleChatAbort)
	s.router.RegisterMethod("orchestrator.state", s.handleOrchestratorState)
	s.router.RegisterMethod("orchestrator.reset", s.handleOrchestratorReset)
	s.router.RegisterMethod("persona.get", s.handlePersonaGet)
	s.router.RegisterMethod("persona.set", s.handlePersonaSet)
	s.router.RegisterMethod("memory.search", s.handleMemorySearch)
	s.router.RegisterMethod("audit.recent", s.handleAuditRecent)
	s.router.RegisterMethod("clients.list", s.handleClientsList)
	s.router.RegisterMethod("methods.list", s.handleMethodsList)
}

// handleChatSend runs one full turn and returns the final state plus the
// model's visible reply, if any.
func (s *Server) handleChatSend(params map[string]interface{}) (interface{}, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "text parameter is required"}
	}

	before := len(s.chat.History())

	if err := s.chat.SendMessage(context.Background(), text); err != nil {
		return nil, fmt.Errorf("turn failed: %w", err)
	}

	result := map[string]interface{}{
		"state": s.chat.State(),
	}

	messages := s.chat.History()
	if len(messages) > before {
		last := messages[len(messages)-1]
		if last.Role == orchestrator.RoleModel {
			result["reply"] = last.Text
		}
	}

	return result, nil
}

func (s *Server) handleChatHistory(params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"messages": s.chat.History(),
	}, nil
}

func (s *Server) handleChatAbort(params map[string]interface{}) (interface{}, error) {
	s.chat.Abort()
	return map[string]interface{}{
		"state": s.chat.State(),
	}, nil
}

func (s *Server) handleOrchestratorState(params map[string]interface{}) (interface{}, error) {
	return s.chat.State(), nil
}

func (s *Server) handleOrchestratorReset(params map[string]interface{}) (interface{}, error) {
	if err := s.chat.Reset(context.Background()); err != nil {
		return nil, err
	}
	return s.chat.State(), nil
}

func (s *Server) handlePersonaGet(params map[string]interface{}) (interface{}, error) {
	return s.chat.Persona(), nil
}

func (s *Server) handlePersonaSet(params map[string]interface{}) (interface{}, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "name parameter is required"}
	}
	role, _ := params["role"].(string)
	instructions, _ := params["instructions"].(string)

	persona := config.PersonaConfig{
		Name:         name,
		Role:         role,
		Instructions: instructions,
	}
	if err := s.chat.SetPersona(context.Background(), persona); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"persona": persona,
		"state":   s.chat.State(),
	}, nil
}

func (s *Server) handleMemorySearch(params map[string]interface{}) (interface{}, error) {
	if s.memories == nil {
		return nil, &RPCError{Code: InternalError, Message: "memory store is not configured"}
	}

	query, _ := params["query"].(string)
	if query == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "query parameter is required"}
	}
	projectID, _ := params["project_id"].(string)
	limit := intParam(params, "limit", 5)

	notes, err := s.memories.Search(context.Background(), projectID, query, limit)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"notes": notes,
	}, nil
}

func (s *Server) handleAuditRecent(params map[string]interface{}) (interface{}, error) {
	if s.audit == nil {
		return nil, &RPCError{Code: InternalError, Message: "audit store is not configured"}
	}

	sessionID, _ := params["session_id"].(string)
	limit := intParam(params, "limit", 20)

	records, err := s.audit.Recent(context.Background(), sessionID, limit)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"records": records,
	}, nil
}

func (s *Server) handleClientsList(params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients": s.clients.Snapshot(),
	}, nil
}

func (s *Server) handleMethodsList(params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"methods": s.router.GetMethods(),
	}, nil
}

// intParam reads a numeric param; JSON numbers arrive as float64.
func intParam(params map[string]interface{}, key string, fallback int) int {
	if v, ok := params[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}
