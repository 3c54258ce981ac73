package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/pkg/llmsession"
	"github.com/inkwell/vellum/pkg/tooldispatch"
)

// abortNotice is what the user sees when the round cap fires.
func abortNotice(maxRounds int) string {
	return fmt.Sprintf("Aborted tool execution after %d rounds to prevent runaway loops.", maxRounds)
}

// runToolLoop drives the model/tool exchange until the model stops
// requesting tools or the round cap fires. Every requested call gets exactly
// one response part, in request order, including failed and unknown calls.
// Returns the final response, whether any tool ran, and the round count.
func (o *Orchestrator) runToolLoop(ctx context.Context, session llmsession.Session, resp *llmsession.Response, logger zerolog.Logger) (*llmsession.Response, bool, int, error) {
	toolRan := false
	rounds := 0
	projectID := o.appState.Snapshot().ProjectID

	for len(resp.FunctionCalls) > 0 {
		if ctx.Err() != nil {
			return resp, toolRan, rounds, nil
		}

		if rounds >= o.maxRounds {
			logger.Warn().Int("rounds", rounds).Msg("Tool round cap reached, aborting loop")
			observability.RecordTurnAbort()
			return &llmsession.Response{Text: abortNotice(o.maxRounds)}, toolRan, rounds, nil
		}

		rounds++
		if o.onRoundStart != nil {
			o.onRoundStart(rounds)
		}

		logger.Debug().
			Int("round", rounds).
			Int("calls", len(resp.FunctionCalls)).
			Msg("Executing tool batch")

		calls := make([]tooldispatch.CallRequest, len(resp.FunctionCalls))
		for i, fc := range resp.FunctionCalls {
			calls[i] = tooldispatch.CallRequest{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}

		results := o.dispatcher.DispatchBatch(ctx, calls, o.deps, projectID)
		toolRan = true

		o.mu.Lock()
		last := calls[len(calls)-1]
		o.state.LastToolCall = &ToolCallSummary{
			Name:    last.Name,
			Success: results[len(results)-1].Success,
		}
		o.mu.Unlock()

		parts := make([]llmsession.FunctionResponsePart, len(calls))
		for i, call := range calls {
			response := map[string]interface{}{"success": results[i].Success}
			if results[i].Success {
				response["message"] = results[i].Message
			} else {
				response["error"] = results[i].Error
			}
			parts[i] = llmsession.FunctionResponsePart{
				ID:       call.ID,
				Name:     call.Name,
				Response: response,
			}
		}

		next, err := session.Send(ctx, llmsession.Request{FunctionResponses: parts})
		if err != nil {
			return nil, toolRan, rounds, err
		}
		resp = next
	}

	return resp, toolRan, rounds, nil
}
