package eventbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of application event
type EventType string

const (
	SelectionChanged  EventType = "selection_changed"
	CursorMoved       EventType = "cursor_moved"
	ChapterSwitched   EventType = "chapter_switched"
	BranchSwitched    EventType = "branch_switched"
	AnalysisCompleted EventType = "analysis_completed"
	MemoryCreated     EventType = "memory_created"
	PanelSwitched     EventType = "panel_switched"
	LoreUpdated       EventType = "lore_updated"
	ZenModeToggled    EventType = "zen_mode_toggled"
	DocumentSaved     EventType = "document_saved"

	// ToolExecuted is published by the tool dispatcher after every dispatch
	ToolExecuted EventType = "tool_executed"

	// StateChanged is published by the orchestrator on status transitions
	StateChanged EventType = "state_changed"
)

// Event is a single application event carried on the bus
type Event struct {
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type subscriber struct {
	types map[EventType]bool // empty means all types
	ch    chan Event
}

// Bus is an in-process publish/subscribe channel for application events.
// Publish never blocks; subscribers with a full buffer miss the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	logger      zerolog.Logger
}

// New creates a new event bus
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers interest in the given event types (all types when none
// are given) and returns a receive channel plus a disposer. The disposer is
// idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int, types ...EventType) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	sub := &subscriber{
		types: make(map[EventType]bool, len(types)),
		ch:    make(chan Event, buffer),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.nextID++
	subID := b.nextID
	b.subscribers[subID] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subscribers[subID]; ok {
				delete(b.subscribers, subID)
				close(s.ch)
			}
		})
	}

	return sub.ch, cancel
}

// Publish delivers an event to all matching subscribers without blocking
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if len(sub.types) > 0 && !sub.types[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug().
				Str("event_type", string(evt.Type)).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// PublishType is a convenience for publishing a typed event with a payload
func (b *Bus) PublishType(t EventType, payload map[string]interface{}) {
	b.Publish(Event{Type: t, Payload: payload, Timestamp: time.Now()})
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes all subscribers and closes their channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
