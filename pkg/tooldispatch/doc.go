// Package tooldispatch maps model-requested tool calls onto registered
// executors and normalizes every outcome into a uniform ToolResult.
//
// Invariants:
//   - A failed lookup, a validation failure, an executor error and an executor
//     panic all produce the same shape: Success=false with Error set.
//   - Every dispatch, successful or not, is appended to the command history
//     and announced on the event bus as a tool_executed event.
//   - Batch dispatch returns results in request order even when the calls run
//     concurrently.
package tooldispatch
