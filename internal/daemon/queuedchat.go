package daemon

import (
	"context"

	"github.com/inkwell/vellum/pkg/commandqueue"
	"github.com/inkwell/vellum/pkg/gateway"
)

// queuedChat is the gateway's chat surface, with turns routed through the
// command queue's serial turn lane. Concurrent chat.send requests line up
// behind one another instead of racing the orchestrator's busy check, and
// turns show up in the queue's metrics alongside tool batches.
type queuedChat struct {
	gateway.ChatService
	queue *commandqueue.CommandQueue
}

func newQueuedChat(chat gateway.ChatService, queue *commandqueue.CommandQueue) *queuedChat {
	return &queuedChat{ChatService: chat, queue: queue}
}

func (q *queuedChat) SendMessage(ctx context.Context, text string) error {
	_, err := q.queue.EnqueueWithContext(ctx, commandqueue.LaneTurn, func(taskCtx context.Context) (interface{}, error) {
		return nil, q.ChatService.SendMessage(taskCtx, text)
	})
	return err
}
