package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/internal/tracing"
	"github.com/inkwell/vellum/pkg/eventbus"
)

const (
	drainTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Config holds server configuration.
type Config struct {
	// Host is the interface to bind; empty binds all interfaces. The daemon
	// passes 127.0.0.1 by default since the gateway is a local editor
	// transport.
	Host         string
	Port         int
	SharedSecret string
	Chat         ChatService
	// Memories is optional; memory.search is unavailable when nil
	Memories MemorySearcher
	// Audit is optional; audit.recent is unavailable when nil
	Audit HistoryReader
	// Bus is optional; state and tool events are forwarded when set
	Bus    *eventbus.Bus
	Logger zerolog.Logger
}

// Server exposes the assistant over websocket and HTTP JSON-RPC. Clients
// authenticate with an HMAC challenge-response over the shared secret.
type Server struct {
	host         string
	port         int
	sharedSecret string
	logger       zerolog.Logger

	httpSrv  *http.Server
	upgrader websocket.Upgrader

	clients     *ClientRegistry
	router      *RPCRouter
	auth        authenticator
	broadcaster *EventBroadcaster
	forwarder   *EventForwarder

	chat     ChatService
	memories MemorySearcher
	audit    HistoryReader

	draining     bool
	drainMu      sync.RWMutex
	inFlightReqs sync.WaitGroup
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Port <= 0:
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	case cfg.SharedSecret == "":
		return nil, errors.New("shared secret is required")
	case cfg.Chat == nil:
		return nil, errors.New("chat service is required")
	}

	registry := NewClientRegistry()
	componentLogger := cfg.Logger.With().Str("component", "gateway").Logger()

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		logger:       componentLogger,
		clients:      registry,
		router:       NewRPCRouter(),
		auth:         newAuthenticator(cfg.SharedSecret),
		broadcaster:  NewEventBroadcaster(registry, cfg.Logger),
		chat:         cfg.Chat,
		memories:     cfg.Memories,
		audit:        cfg.Audit,
		upgrader: websocket.Upgrader{
			// Local editor frontend only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.Bus != nil {
		s.forwarder = NewEventForwarder(cfg.Bus, s.broadcaster, componentLogger)
	}

	s.registerBuiltinMethods()
	return s, nil
}

// listenAddr resolves the bind address; an empty host binds all interfaces.
func (s *Server) listenAddr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start binds the listener and begins serving. It does not block.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.listenAddr(),
		Handler: s.routes(),
	}

	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("Gateway listening")

	go func() {
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway listener failed")
		}
	}()

	if s.forwarder != nil {
		return s.forwarder.Start()
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	return mux
}

// Stop drains in-flight requests, closes client connections, and shuts the
// listener down.
func (s *Server) Stop() error {
	s.drainMu.Lock()
	s.draining = true
	s.drainMu.Unlock()

	s.logger.Info().Msg("Gateway shutting down")

	if s.forwarder != nil {
		s.forwarder.Stop()
	}

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	drained := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		s.logger.Warn().Msg("Drain timeout reached, closing remaining connections")
	}

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) isDraining() bool {
	s.drainMu.RLock()
	defer s.drainMu.RUnlock()
	return s.draining
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isDraining() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id, _ := gonanoid.New()
	now := time.Now()
	client := &Client{
		ID:           id,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		State:        StateConnecting,
	}
	s.clients.Add(client)
	s.logger.Info().Str("clientId", id).Str("ip", r.RemoteAddr).Msg("Client connected")

	if err := s.challenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", id).Msg("Challenge delivery failed")
		conn.Close()
		s.clients.Remove(id)
		return
	}

	go s.readLoop(client)
}

// challenge issues an auth challenge and moves the client to the
// authenticating state.
func (s *Server) challenge(client *Client) error {
	nonce, err := newChallenge()
	if err != nil {
		return err
	}
	client.Challenge = nonce
	client.State = StateAuthenticating

	return client.Conn.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: nonce,
	})
}

// readLoop consumes client frames until the connection drops.
func (s *Server) readLoop(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, frame, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Websocket read failed")
			}
			return
		}

		s.clients.Touch(client.ID)
		s.dispatch(client, frame)
	}
}

// dispatch routes one inbound frame: auth responses first, then RPC for
// authenticated clients.
func (s *Server) dispatch(client *Client, frame []byte) {
	var authResp AuthResponse
	if json.Unmarshal(frame, &authResp) == nil && authResp.Method == "auth.response" {
		s.finishAuth(client, authResp.Signature)
		return
	}

	if !client.Authenticated {
		s.replyError(client, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(frame)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.replyError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.replyError(client, "", ParseError, err.Error())
		}
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()

		resp := s.router.RouteRequest(req)
		if err := client.Conn.WriteJSON(resp); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Response write failed")
		}
	}()
}

func (s *Server) finishAuth(client *Client, signature string) {
	result := s.auth.authenticate(client, signature)

	if err := client.Conn.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Auth result write failed")
		return
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")
	if client.AuthAttempts >= maxAuthAttempts {
		client.Conn.Close()
	}
}

// handleRPC serves single-shot HTTP JSON-RPC requests, authenticated by the
// shared secret header instead of the websocket challenge.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-Vellum-Secret") != s.sharedSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	req, err := s.router.ParseRequest(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(RPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: ParseError, Message: err.Error()},
		})
		return
	}

	ctx := tracing.NewTurnContext(r.Context(), "")
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	if err := json.NewEncoder(w).Encode(s.router.RouteRequest(req)); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

func (s *Server) replyError(client *Client, requestID string, code int, message string) {
	resp := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
	}
	if err := client.Conn.WriteJSON(resp); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Error write failed")
	}
}

// Broadcast sends an event to every authenticated client.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler.
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod removes an RPC method handler.
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// ConnectedClients reports every connected client.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.Snapshot()
}
