package gateway

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/pkg/eventbus"
)

// forwardedTypes are the bus events mirrored to gateway clients. The
// frontend renders these directly; the rest of the bus traffic stays
// internal.
var forwardedTypes = []eventbus.EventType{
	eventbus.StateChanged,
	eventbus.ToolExecuted,
	eventbus.AnalysisCompleted,
	eventbus.MemoryCreated,
	eventbus.ChapterSwitched,
}

// EventForwarder bridges the application event bus onto the websocket
// broadcaster.
type EventForwarder struct {
	bus         *eventbus.Bus
	broadcaster *EventBroadcaster
	logger      zerolog.Logger

	mu      sync.Mutex
	dispose func()
	done    chan struct{}
}

// NewEventForwarder creates an event forwarder
func NewEventForwarder(bus *eventbus.Bus, broadcaster *EventBroadcaster, logger zerolog.Logger) *EventForwarder {
	return &EventForwarder{
		bus:         bus,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Start subscribes to the bus and forwards events until Stop is called.
func (f *EventForwarder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispose != nil {
		return errors.New("forwarder already started")
	}

	ch, dispose := f.bus.Subscribe(64, forwardedTypes...)
	f.dispose = dispose
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		for evt := range ch {
			f.broadcaster.Broadcast(string(evt.Type), evt.Payload)
		}
	}()

	f.logger.Debug().Int("types", len(forwardedTypes)).Msg("Event forwarder started")
	return nil
}

// Stop unsubscribes and waits for the forwarding goroutine to drain.
func (f *EventForwarder) Stop() {
	f.mu.Lock()
	dispose := f.dispose
	done := f.done
	f.dispose = nil
	f.done = nil
	f.mu.Unlock()

	if dispose != nil {
		dispose()
		<-done
	}
}
