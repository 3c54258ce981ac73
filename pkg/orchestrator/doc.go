// Package orchestrator drives the multi-round conversation between the user
// and the persona-backed model session: it owns the state machine and chat
// history, assembles per-turn context, runs the capped tool loop, and keeps
// the session fresh when the project's identity drifts.
//
// Invariants:
//   - One turn in flight per instance; SendMessage while Thinking is a no-op.
//     This is a deliberate simplification over queuing: a writing assistant's
//     second question mid-turn is almost always a retry, not a backlog.
//   - The tool loop never runs more than 5 rounds per turn.
//   - Every requested tool call gets exactly one function response, in the
//     order the model requested them.
//   - A cancelled turn ends silently: no message appended, state back to Idle.
//   - History never exceeds the configured limit after a turn; pruning drops
//     oldest entries and never the exchange just produced.
package orchestrator
