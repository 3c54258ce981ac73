package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/vellum/internal/config"
	"github.com/inkwell/vellum/pkg/appstate"
	"github.com/inkwell/vellum/pkg/assembler"
	"github.com/inkwell/vellum/pkg/llmsession"
	"github.com/inkwell/vellum/pkg/tooldispatch"
)

// scriptedSession replays a fixed sequence of responses and records every
// request it receives.
type scriptedSession struct {
	mu        sync.Mutex
	responses []*llmsession.Response
	requests  []llmsession.Request
	errAt     int // 1-based index of the Send that fails; 0 = never
}

func (s *scriptedSession) Send(ctx context.Context, req llmsession.Request) (*llmsession.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.errAt > 0 && len(s.requests) == s.errAt {
		return nil, errors.New("model unavailable")
	}
	if len(s.responses) == 0 {
		return &llmsession.Response{Text: "ok"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedSession) sentRequests() []llmsession.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llmsession.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

type fakeSessions struct {
	mu        sync.Mutex
	session   llmsession.Session
	drifted   bool
	createN   int
	creates   []string
	createErr error
}

func (f *fakeSessions) CreateSession(ctx context.Context, p llmsession.CreateParams) (llmsession.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createN++
	f.creates = append(f.creates, p.Reason)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.session, nil
}

func (f *fakeSessions) Drifted(snap appstate.Snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drifted
}

type fakeAssembler struct {
	result assembler.Result
	err    error
	calls  int
}

func (f *fakeAssembler) Assemble(ctx context.Context, snap appstate.Snapshot, projectID string, profile assembler.Profile) (assembler.Result, error) {
	f.calls++
	if f.err != nil {
		return assembler.Result{}, f.err
	}
	return f.result, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	batches [][]tooldispatch.CallRequest
	resolve func(call tooldispatch.CallRequest) tooldispatch.ToolResult
}

func (f *fakeRunner) DispatchBatch(ctx context.Context, calls []tooldispatch.CallRequest, deps *tooldispatch.Dependencies, projectID string) []tooldispatch.ToolResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]tooldispatch.CallRequest, len(calls))
	copy(batch, calls)
	f.batches = append(f.batches, batch)

	results := make([]tooldispatch.ToolResult, len(calls))
	for i, call := range calls {
		if f.resolve != nil {
			results[i] = f.resolve(call)
		} else {
			results[i] = tooldispatch.ToolResult{Success: true, Message: "OK"}
		}
	}
	return results
}

// sendCall is one in-flight Send observed by a parkingSession.
type sendCall struct {
	message string
	reply   chan *llmsession.Response
}

// parkingSession parks every Send until the test replies, so tests can
// observe and steer the orchestrator mid-turn.
type parkingSession struct {
	calls chan sendCall
}

func newParkingSession() *parkingSession {
	return &parkingSession{calls: make(chan sendCall, 4)}
}

func (s *parkingSession) Send(ctx context.Context, req llmsession.Request) (*llmsession.Response, error) {
	call := sendCall{message: req.Message, reply: make(chan *llmsession.Response, 1)}
	s.calls <- call
	return <-call.reply, nil
}

func testSnapshot() appstate.Snapshot {
	return appstate.Snapshot{
		ProjectID: "proj-1",
		Manuscript: appstate.Manuscript{
			Chapters: []appstate.Chapter{
				{ID: "ch1", Title: "Chapter One", Text: "It was a dark and stormy night."},
			},
			ActiveChapterID: "ch1",
		},
	}
}

type fixture struct {
	orch     *Orchestrator
	sessions *fakeSessions
	session  *scriptedSession
	asm      *fakeAssembler
	runner   *fakeRunner
}

func setup(t *testing.T, mutate func(cfg *Config, f *fixture)) *fixture {
	t.Helper()

	f := &fixture{
		session: &scriptedSession{},
		asm:     &fakeAssembler{result: assembler.Result{Context: "## MANUSCRIPT\ntext"}},
		runner:  &fakeRunner{},
	}
	f.sessions = &fakeSessions{session: f.session}

	cfg := Config{
		Sessions:   f.sessions,
		Assembler:  f.asm,
		Dispatcher: f.runner,
		AppState:   appstate.ProviderFunc(testSnapshot),
		Persona:    config.PersonaConfig{Name: "Quill", Role: "editor"},
		Logger:     zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg, f)
	}

	orch, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, orch.Initialize(context.Background()))
	require.Equal(t, StatusIdle, orch.State().Status)
	f.orch = orch
	return f
}

func toolCallResponse(calls ...llmsession.FunctionCall) *llmsession.Response {
	return &llmsession.Response{FunctionCalls: calls}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestInitializeFailureSetsErrorState(t *testing.T) {
	sessions := &fakeSessions{createErr: errors.New("no api key")}
	orch, err := New(Config{
		Sessions:   sessions,
		Assembler:  &fakeAssembler{},
		Dispatcher: &fakeRunner{},
		AppState:   appstate.ProviderFunc(testSnapshot),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	err = orch.Initialize(context.Background())
	require.Error(t, err)

	st := orch.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.LastError, "no api key")
}

func TestSendMessageWhitespaceIsNoOp(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.orch.SendMessage(context.Background(), "   \n\t "))

	assert.Empty(t, f.session.sentRequests())
	assert.Empty(t, f.orch.History())
	assert.Equal(t, StatusIdle, f.orch.State().Status)
}

func TestSendMessagePlainReply(t *testing.T) {
	f := setup(t, nil)
	f.session.responses = []*llmsession.Response{{Text: "Hello there."}}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Hi"))

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "Hi", history[0].Text)
	assert.Equal(t, RoleModel, history[1].Role)
	assert.Equal(t, "Hello there.", history[1].Text)
	assert.Equal(t, StatusIdle, f.orch.State().Status)
}

func TestSendMessageIncludesAssembledContext(t *testing.T) {
	f := setup(t, nil)
	f.asm.result = assembler.Result{Context: "## MANUSCRIPT\nstormy night"}
	f.session.responses = []*llmsession.Response{{Text: "ok"}}

	require.NoError(t, f.orch.SendMessage(context.Background(), "What happens next?"))

	reqs := f.session.sentRequests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Message, "## MANUSCRIPT\nstormy night")
	assert.True(t, strings.HasSuffix(reqs[0].Message, "What happens next?"))
}

func TestAssemblerFailureFallsBack(t *testing.T) {
	f := setup(t, nil)
	f.asm.err = errors.New("budget solver exploded")
	f.session.responses = []*llmsession.Response{{Text: "still fine"}}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Hi"))

	reqs := f.session.sentRequests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Message, "It was a dark and stormy night.")
	assert.Equal(t, StatusIdle, f.orch.State().Status)
}

func TestToolRoundProducesResponsePerCall(t *testing.T) {
	f := setup(t, func(cfg *Config, fx *fixture) {
		fx.runner.resolve = func(call tooldispatch.CallRequest) tooldispatch.ToolResult {
			if call.Name == "broken_tool" {
				return tooldispatch.ToolResult{Success: false, Error: "it broke"}
			}
			return tooldispatch.ToolResult{Success: true, Message: "done " + call.Name}
		}
	})
	f.session.responses = []*llmsession.Response{
		toolCallResponse(
			llmsession.FunctionCall{ID: "c1", Name: "query_lore", Args: map[string]interface{}{"query": "dragons"}},
			llmsession.FunctionCall{ID: "c2", Name: "broken_tool"},
			llmsession.FunctionCall{ID: "c3", Name: "read_selection"},
		),
		{Text: "All done."},
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Look things up"))

	reqs := f.session.sentRequests()
	require.Len(t, reqs, 2)

	parts := reqs[1].FunctionResponses
	require.Len(t, parts, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{parts[0].ID, parts[1].ID, parts[2].ID})
	assert.Equal(t, true, parts[0].Response["success"])
	assert.Equal(t, "done query_lore", parts[0].Response["message"])
	assert.Equal(t, false, parts[1].Response["success"])
	assert.Equal(t, "it broke", parts[1].Response["error"])

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "All done.", history[1].Text)
}

func TestLastToolCallTracksMostRecent(t *testing.T) {
	f := setup(t, nil)
	f.session.responses = []*llmsession.Response{
		toolCallResponse(llmsession.FunctionCall{ID: "c1", Name: "update_manuscript", Args: map[string]interface{}{
			"search": "dark", "replace": "bright",
		}}),
		{Text: "Edited."},
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Fix the opening"))

	st := f.orch.State()
	require.NotNil(t, st.LastToolCall)
	assert.Equal(t, "update_manuscript", st.LastToolCall.Name)
	assert.True(t, st.LastToolCall.Success)
}

func TestRoundCapAborts(t *testing.T) {
	f := setup(t, nil)
	// The model never stops asking for tools.
	for i := 0; i < 10; i++ {
		f.session.responses = append(f.session.responses,
			toolCallResponse(llmsession.FunctionCall{ID: fmt.Sprintf("c%d", i), Name: "query_lore"}))
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Go wild"))

	// Initial send plus exactly five batch round-trips.
	assert.Len(t, f.session.sentRequests(), 6)
	assert.Len(t, f.runner.batches, 5)

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Aborted tool execution after 5 rounds to prevent runaway loops.", history[1].Text)
	assert.Equal(t, StatusIdle, f.orch.State().Status)
}

func TestEmptyTextAfterToolsBecomesDone(t *testing.T) {
	f := setup(t, nil)
	f.session.responses = []*llmsession.Response{
		toolCallResponse(llmsession.FunctionCall{ID: "c1", Name: "create_memory"}),
		{Text: ""},
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Remember this"))

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Done.", history[1].Text)
}

func TestModelErrorAppendsErrorMessage(t *testing.T) {
	f := setup(t, nil)
	f.session.errAt = 1

	err := f.orch.SendMessage(context.Background(), "Hi")
	require.Error(t, err)

	st := f.orch.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.LastError, "model unavailable")

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Sorry, I encountered an error: model unavailable", history[1].Text)
}

func TestCancelledTurnEndsSilently(t *testing.T) {
	f := setup(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.orch.SendMessage(ctx, "Hi"))

	history := f.orch.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleUser, history[0].Role)

	st := f.orch.State()
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.LastError)
}

func TestAbortSuppressesInFlightReply(t *testing.T) {
	ps := newParkingSession()
	f := setup(t, func(cfg *Config, fx *fixture) {
		fx.sessions.session = ps
	})

	done := make(chan error, 1)
	go func() { done <- f.orch.SendMessage(context.Background(), "Draft an opening") }()

	call := <-ps.calls
	assert.Equal(t, StatusThinking, f.orch.State().Status)

	f.orch.Abort()
	call.reply <- &llmsession.Response{Text: "late reply"}
	require.NoError(t, <-done)

	history := f.orch.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleUser, history[0].Role)

	st := f.orch.State()
	assert.Equal(t, StatusIdle, st.Status)
	assert.False(t, st.IsProcessing)
	assert.Empty(t, st.LastError)
}

func TestSendMessageWhileThinkingIsNoOp(t *testing.T) {
	ps := newParkingSession()
	f := setup(t, func(cfg *Config, fx *fixture) {
		fx.sessions.session = ps
	})

	done := make(chan error, 1)
	go func() { done <- f.orch.SendMessage(context.Background(), "First") }()
	call := <-ps.calls

	// A second message during Thinking is dropped, not queued.
	require.NoError(t, f.orch.SendMessage(context.Background(), "Second"))
	assert.Empty(t, ps.calls)

	call.reply <- &llmsession.Response{Text: "First reply"}
	require.NoError(t, <-done)

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "First", history[0].Text)
	assert.Equal(t, "First reply", history[1].Text)
}

func TestAbortedTurnDoesNotClobberNextTurn(t *testing.T) {
	ps := newParkingSession()
	f := setup(t, func(cfg *Config, fx *fixture) {
		fx.sessions.session = ps
	})

	done1 := make(chan error, 1)
	go func() { done1 <- f.orch.SendMessage(context.Background(), "first") }()
	call1 := <-ps.calls

	f.orch.Abort()

	// An explicit abort frees the orchestrator for the next turn even while
	// the aborted one is still unwinding.
	done2 := make(chan error, 1)
	go func() { done2 <- f.orch.SendMessage(context.Background(), "second") }()
	call2 := <-ps.calls
	assert.Equal(t, StatusThinking, f.orch.State().Status)

	// The stale turn resolves now; the new turn's state must survive it.
	call1.reply <- &llmsession.Response{Text: "late reply"}
	require.NoError(t, <-done1)

	st := f.orch.State()
	assert.Equal(t, StatusThinking, st.Status)
	assert.True(t, st.IsProcessing)

	// Abort must still reach the second turn.
	f.orch.Abort()
	call2.reply <- &llmsession.Response{Text: "second late reply"}
	require.NoError(t, <-done2)

	for _, msg := range f.orch.History() {
		assert.Equal(t, RoleUser, msg.Role)
	}
	assert.Equal(t, StatusIdle, f.orch.State().Status)
}

func TestRoundCapMessageTracksConfig(t *testing.T) {
	f := setup(t, func(cfg *Config, fx *fixture) {
		cfg.MaxToolRounds = 2
	})
	for i := 0; i < 5; i++ {
		f.session.responses = append(f.session.responses,
			toolCallResponse(llmsession.FunctionCall{ID: fmt.Sprintf("c%d", i), Name: "query_lore"}))
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Go wild"))

	assert.Len(t, f.runner.batches, 2)

	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Aborted tool execution after 2 rounds to prevent runaway loops.", history[1].Text)
}

func TestHistoryPrunesOldestFirst(t *testing.T) {
	f := setup(t, func(cfg *Config, fx *fixture) {
		cfg.MessageLimit = 3
	})
	f.session.responses = []*llmsession.Response{
		{Text: "Reply 1"},
		{Text: "Reply 2"},
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "First"))
	require.NoError(t, f.orch.SendMessage(context.Background(), "Second"))

	history := f.orch.History()
	require.Len(t, history, 3)

	texts := make([]string, len(history))
	for i, m := range history {
		texts[i] = m.Text
	}
	assert.NotContains(t, texts, "First")
	assert.Contains(t, texts, "Second")
	assert.Contains(t, texts, "Reply 2")
}

func TestSetPersonaAppendsNotice(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.orch.SetPersona(context.Background(), config.PersonaConfig{Name: "Muse", Role: "brainstormer"}))

	assert.Equal(t, 2, f.sessions.createN)
	assert.Equal(t, llmsession.ReasonPersonaChange, f.sessions.creates[1])

	history := f.orch.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleModel, history[0].Role)
	assert.Equal(t, "Switched to Muse", history[0].Text)
	assert.Equal(t, "Muse", f.orch.Persona().Name)
}

func TestNotifyContextChangedReinitsOnDrift(t *testing.T) {
	f := setup(t, func(cfg *Config, fx *fixture) {
		cfg.AutoReinit = true
	})

	// No drift: nothing happens.
	require.NoError(t, f.orch.NotifyContextChanged(context.Background()))
	assert.Equal(t, 1, f.sessions.createN)

	f.sessions.mu.Lock()
	f.sessions.drifted = true
	f.sessions.mu.Unlock()

	require.NoError(t, f.orch.NotifyContextChanged(context.Background()))
	assert.Equal(t, 2, f.sessions.createN)
	assert.Equal(t, llmsession.ReasonDrift, f.sessions.creates[1])
	assert.Equal(t, StatusIdle, f.orch.State().Status)
}

func TestNotifyContextChangedIgnoredWithoutAutoReinit(t *testing.T) {
	f := setup(t, nil)

	f.sessions.mu.Lock()
	f.sessions.drifted = true
	f.sessions.mu.Unlock()

	require.NoError(t, f.orch.NotifyContextChanged(context.Background()))
	assert.Equal(t, 1, f.sessions.createN)
}

func TestResetCreatesFreshSession(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.orch.Reset(context.Background()))
	assert.Equal(t, 2, f.sessions.createN)
	assert.Equal(t, llmsession.ReasonReset, f.sessions.creates[1])
}

func TestOnRoundStartFiresForEachRound(t *testing.T) {
	var rounds []int
	f := setup(t, func(cfg *Config, fx *fixture) {
		cfg.OnRoundStart = func(round int) { rounds = append(rounds, round) }
	})
	f.session.responses = []*llmsession.Response{
		toolCallResponse(llmsession.FunctionCall{ID: "c1", Name: "run_analysis"}),
		toolCallResponse(llmsession.FunctionCall{ID: "c2", Name: "query_lore"}),
		{Text: "ok"},
	}

	require.NoError(t, f.orch.SendMessage(context.Background(), "Analyze then look up"))

	assert.Equal(t, []int{1, 2}, rounds)
}
