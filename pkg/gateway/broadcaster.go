package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster fans server events out to all authenticated clients.
// Events carry a monotonic sequence number so clients can detect gaps.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a broadcaster over the given registry.
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{clients: clients, logger: logger}
}

// Broadcast sends one event to every authenticated client. Write failures
// are logged per client and do not stop the fan-out.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.seq.Add(1),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	recipients := b.clients.Authenticated()
	if len(recipients) == 0 {
		return
	}

	failed := 0
	for _, client := range recipients {
		if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().Err(err).
				Str("clientId", client.ID).
				Str("event", event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("clients", len(recipients)).
		Int("failed", failed).
		Msg("Event broadcast complete")
}
