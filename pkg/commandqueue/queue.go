// Package commandqueue runs asynchronous tasks on named lanes. A lane has a
// fixed concurrency: the turn lane serializes conversation turns while the
// tools lane runs a round's tool batch with bounded parallelism.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/internal/tracing"
)

const (
	LaneTurn  = "turn"
	LaneTools = "tools"
)

const toolsLaneConcurrency = 4

// Task is one unit of asynchronous work.
type Task func(ctx context.Context) (interface{}, error)

// EventHandler observes queue activity.
type EventHandler func(event Event)

// Event describes a queue transition ("enqueued" or "completed").
type Event struct {
	Type   string
	Lane   string
	TaskID string
	Data   map[string]interface{}
}

type pendingTask struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	result     chan outcome
}

type outcome struct {
	value interface{}
	err   error
}

// lane holds the queue and execution state for one lane name.
type lane struct {
	mu          sync.Mutex
	generation  int
	concurrency int
	pending     []*pendingTask
	running     int
}

// CommandQueue provides lane-based task execution. Callers own their
// instance; there is no process-wide queue.
type CommandQueue struct {
	mu     sync.RWMutex
	lanes  map[string]*lane
	nextID int

	handlerMu sync.RWMutex
	handlers  map[string][]EventHandler

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue with the turn and tools lanes preconfigured.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	cq := &CommandQueue{
		lanes:    make(map[string]*lane),
		handlers: make(map[string][]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
	cq.lanes[LaneTurn] = &lane{concurrency: 1}
	cq.lanes[LaneTools] = &lane{concurrency: toolsLaneConcurrency}
	return cq
}

// Enqueue submits a task and blocks until it completes.
func (cq *CommandQueue) Enqueue(laneName string, task Task) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), laneName, task)
}

// EnqueueWithContext submits a task carrying the turn's tracing context and
// blocks until the task completes or is rejected by a lane reset.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, laneName string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"vellum.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", laneName),
	)
	defer span.End()

	ln := cq.lane(laneName)

	cq.mu.Lock()
	cq.nextID++
	taskID := fmt.Sprintf("%s-%d", laneName, cq.nextID)
	cq.mu.Unlock()

	ln.mu.Lock()
	pt := &pendingTask{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ln.generation,
		result:     make(chan outcome, 1),
	}
	ln.pending = append(ln.pending, pt)
	depth := len(ln.pending)
	ln.mu.Unlock()

	observability.RecordQueueEnqueue(laneName, depth)
	cq.emit(Event{
		Type:   "enqueued",
		Lane:   laneName,
		TaskID: taskID,
		Data:   map[string]interface{}{"queueSize": depth},
	})

	go cq.pump(laneName)

	res := <-pt.result
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res.value, res.err
}

// lane returns the named lane, creating a serial one on first use.
func (cq *CommandQueue) lane(name string) *lane {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ln, ok := cq.lanes[name]
	if !ok {
		ln = &lane{concurrency: 1}
		cq.lanes[name] = ln
	}
	return ln
}

// pump starts queued tasks while the lane has spare capacity.
func (cq *CommandQueue) pump(laneName string) {
	ln := cq.lane(laneName)

	ln.mu.Lock()
	defer ln.mu.Unlock()

	for ln.running < ln.concurrency && len(ln.pending) > 0 {
		pt := ln.pending[0]
		ln.pending = ln.pending[1:]

		// Tasks enqueued before a reset are rejected, not run.
		if pt.generation != ln.generation {
			pt.result <- outcome{err: fmt.Errorf("task cancelled due to lane reset")}
			close(pt.result)
			continue
		}

		ln.running++
		cq.wg.Add(1)
		go cq.run(laneName, ln, pt)
	}
}

func (cq *CommandQueue) run(laneName string, ln *lane, pt *pendingTask) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		pt.ctx,
		"vellum.commandqueue",
		"commandqueue.run_task",
		attribute.String("lane", laneName),
		attribute.String("task_id", pt.id),
	)
	defer span.End()

	// Queue shutdown cancels in-flight tasks cooperatively.
	runCtx, cancelRun := context.WithCancel(taskCtx)
	stop := context.AfterFunc(cq.ctx, cancelRun)
	defer func() {
		stop()
		cancelRun()
	}()

	started := time.Now()
	value, err := pt.task(runCtx)
	elapsed := time.Since(started)

	ln.mu.Lock()
	ln.running--
	depth := len(ln.pending)
	ln.mu.Unlock()

	pt.result <- outcome{value: value, err: err}
	close(pt.result)

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", laneName).Logger()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Str("taskId", pt.id).Dur("duration", elapsed).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("taskId", pt.id).Dur("duration", elapsed).Msg("Task completed")
	}

	observability.RecordQueueCompletion(laneName, elapsed, err == nil, depth)
	cq.emit(Event{
		Type:   "completed",
		Lane:   laneName,
		TaskID: pt.id,
		Data: map[string]interface{}{
			"duration": elapsed.Milliseconds(),
			"success":  err == nil,
		},
	})

	go cq.pump(laneName)
}

// GetQueueSize returns the number of tasks waiting on a lane.
func (cq *CommandQueue) GetQueueSize(laneName string) int {
	cq.mu.RLock()
	ln, ok := cq.lanes[laneName]
	cq.mu.RUnlock()
	if !ok {
		return 0
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()
	return len(ln.pending)
}

// GetStats reports queued/running/concurrency per lane.
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for name, ln := range cq.lanes {
		ln.mu.Lock()
		stats[name] = map[string]int{
			"queued":      len(ln.pending),
			"running":     ln.running,
			"concurrency": ln.concurrency,
		}
		ln.mu.Unlock()
	}
	return stats
}

// ResetLane bumps the lane generation and rejects everything still queued.
// Running tasks finish; their results are still delivered.
func (cq *CommandQueue) ResetLane(laneName string) {
	cq.mu.RLock()
	ln, ok := cq.lanes[laneName]
	cq.mu.RUnlock()
	if !ok {
		return
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	ln.generation++
	for _, pt := range ln.pending {
		pt.result <- outcome{err: fmt.Errorf("lane reset")}
		close(pt.result)
	}
	ln.pending = nil

	log.Info().Str("lane", laneName).Int("generation", ln.generation).Msg("Lane reset")
	observability.SetQueueSize(laneName, 0)
}

// WaitForActive blocks until every running task finishes or the timeout
// elapses; it returns false on timeout.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		busy := false
		cq.mu.RLock()
		for _, ln := range cq.lanes {
			ln.mu.Lock()
			if ln.running > 0 {
				busy = true
			}
			ln.mu.Unlock()
		}
		cq.mu.RUnlock()

		if !busy {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// OnEvent registers a handler for "enqueued" or "completed" events.
func (cq *CommandQueue) OnEvent(eventType string, handler EventHandler) {
	cq.handlerMu.Lock()
	defer cq.handlerMu.Unlock()
	cq.handlers[eventType] = append(cq.handlers[eventType], handler)
}

func (cq *CommandQueue) emit(event Event) {
	cq.handlerMu.RLock()
	handlers := cq.handlers[event.Type]
	cq.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Close cancels in-flight task contexts and waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.wg.Wait()
	return nil
}
