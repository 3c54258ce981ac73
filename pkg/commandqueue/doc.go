// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently up to the lane's limit.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// The runtime uses two lanes by default: "turn" serializes conversation turns
// so only one is ever in flight, and "tools" runs tool executions with bounded
// concurrency.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(commandqueue.LaneTurn, func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package commandqueue
