package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/pkg/eventbus"
)

// driftTriggers are the bus events that can change the session's dependency
// signature and therefore warrant a drift check.
var driftTriggers = []eventbus.EventType{
	eventbus.ChapterSwitched,
	eventbus.BranchSwitched,
	eventbus.AnalysisCompleted,
}

// DriftNotifier is poked when editor state changed in a way that may
// invalidate the current session.
type DriftNotifier interface {
	NotifyContextChanged(ctx context.Context) error
}

// EventLoop watches the bus for drift-triggering events and nudges the
// orchestrator. Checks are debounced so a burst of editor events causes at
// most one session recreation.
type EventLoop struct {
	bus      *eventbus.Bus
	drift    DriftNotifier
	logger   zerolog.Logger
	debounce time.Duration
}

// NewEventLoop creates an event loop
func NewEventLoop(bus *eventbus.Bus, drift DriftNotifier, logger zerolog.Logger) *EventLoop {
	return &EventLoop{
		bus:      bus,
		drift:    drift,
		logger:   logger.With().Str("component", "eventloop").Logger(),
		debounce: 2 * time.Second,
	}
}

// Run processes events until the context is cancelled.
func (l *EventLoop) Run(ctx context.Context) {
	ch, dispose := l.bus.Subscribe(64, driftTriggers...)
	defer dispose()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case evt, ok := <-ch:
			if !ok {
				return
			}
			l.logger.Debug().Str("type", string(evt.Type)).Msg("Drift trigger observed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(l.debounce)
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			if err := l.drift.NotifyContextChanged(ctx); err != nil {
				l.logger.Warn().Err(err).Msg("Drift check failed")
			}
		}
	}
}
