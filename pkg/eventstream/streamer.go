// Package eventstream watches application events and condenses them into
// short "what happened since the last turn" patches appended to the next
// prompt. The queue is bounded; when full, the oldest low-importance patch
// is evicted first.
package eventstream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/pkg/eventbus"
)

// Importance ranks how much a patch matters to the next prompt.
type Importance int

const (
	Low Importance = iota
	Medium
	High
)

// String returns the importance name
func (i Importance) String() string {
	switch i {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

func (i Importance) icon() string {
	switch i {
	case High:
		return "❗"
	case Medium:
		return "ℹ️"
	default:
		return "·"
	}
}

// Patch is one summarized application event awaiting the next prompt.
type Patch struct {
	Type       eventbus.EventType `json:"type"`
	Summary    string             `json:"summary"`
	Importance Importance         `json:"importance"`
	Timestamp  time.Time          `json:"timestamp"`
}

// allowedTypes is the fixed allow-list of event types the streamer watches.
var allowedTypes = []eventbus.EventType{
	eventbus.SelectionChanged,
	eventbus.CursorMoved,
	eventbus.ChapterSwitched,
	eventbus.BranchSwitched,
	eventbus.AnalysisCompleted,
	eventbus.MemoryCreated,
	eventbus.PanelSwitched,
	eventbus.LoreUpdated,
	eventbus.ZenModeToggled,
	eventbus.DocumentSaved,
}

// importanceOf maps event types to their tier.
func importanceOf(t eventbus.EventType) Importance {
	switch t {
	case eventbus.ChapterSwitched, eventbus.BranchSwitched,
		eventbus.AnalysisCompleted, eventbus.MemoryCreated:
		return High
	case eventbus.SelectionChanged, eventbus.CursorMoved,
		eventbus.LoreUpdated, eventbus.PanelSwitched:
		return Medium
	default:
		return Low
	}
}

// Config holds streamer configuration
type Config struct {
	Bus *eventbus.Bus
	// MaxQueue caps buffered patches (default 32)
	MaxQueue int
	Logger   zerolog.Logger
}

// Streamer buffers summarized application events between turns.
type Streamer struct {
	bus      *eventbus.Bus
	maxQueue int
	logger   zerolog.Logger

	mu        sync.Mutex
	queue     []Patch
	startedAt time.Time
	dispose   func()
	done      chan struct{}
}

// New creates a Streamer
func New(cfg Config) (*Streamer, error) {
	observability.EnsureRegistered()

	if cfg.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 32
	}

	return &Streamer{
		bus:      cfg.Bus,
		maxQueue: cfg.MaxQueue,
		logger:   cfg.Logger.With().Str("component", "eventstream").Logger(),
	}, nil
}

// Start subscribes to the allow-listed event types. Events published before
// Start are never queued.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispose != nil {
		return errors.New("streamer already started")
	}

	s.startedAt = time.Now()

	events, dispose := s.bus.Subscribe(64, allowedTypes...)
	s.dispose = dispose
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for evt := range events {
			s.handle(evt)
		}
	}()

	s.logger.Info().Int("max_queue", s.maxQueue).Msg("Event streamer started")

	return nil
}

// Stop unsubscribes from the bus and waits for the drain goroutine to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	dispose := s.dispose
	done := s.done
	s.dispose = nil
	s.mu.Unlock()

	if dispose == nil {
		return
	}

	dispose()
	<-done

	s.logger.Info().Msg("Event streamer stopped")
}

// handle converts one event into a patch and enqueues it.
func (s *Streamer) handle(evt eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Replay guard: ignore backlog from before this streamer existed.
	if evt.Timestamp.Before(s.startedAt) {
		return
	}

	summary := summarize(evt)
	if summary == "" {
		return
	}

	patch := Patch{
		Type:       evt.Type,
		Summary:    summary,
		Importance: importanceOf(evt.Type),
		Timestamp:  evt.Timestamp,
	}

	if len(s.queue) >= s.maxQueue {
		s.evictLocked()
	}

	s.queue = append(s.queue, patch)
	observability.SetEventQueueDepth(len(s.queue))
}

// evictLocked removes the oldest low-importance patch, or the oldest patch
// overall if none are low-importance. Caller holds the lock.
func (s *Streamer) evictLocked() {
	victim := 0
	for i, p := range s.queue {
		if p.Importance == Low {
			victim = i
			break
		}
	}

	s.logger.Debug().
		Str("type", string(s.queue[victim].Type)).
		Str("importance", s.queue[victim].Importance.String()).
		Msg("Evicting patch from full queue")

	s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
	observability.RecordPatchEviction()
}

// Pending returns the number of queued patches.
func (s *Streamer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// DrainPatches empties the queue and returns the patches in FIFO order.
func (s *Streamer) DrainPatches() []Patch {
	s.mu.Lock()
	defer s.mu.Unlock()

	patches := s.queue
	s.queue = nil
	observability.SetEventQueueDepth(0)

	return patches
}

// FormatPatchesForPrompt drains the queue and renders up to maxPatches as an
// icon-prefixed bullet list, with a trailer when more were pending. Returns
// "" and false when the queue is empty.
func (s *Streamer) FormatPatchesForPrompt(maxPatches int) (string, bool) {
	patches := s.DrainPatches()
	if len(patches) == 0 {
		return "", false
	}

	if maxPatches <= 0 {
		maxPatches = len(patches)
	}

	shown := patches
	if len(shown) > maxPatches {
		shown = shown[:maxPatches]
	}

	out := "Recent activity:\n"
	for _, p := range shown {
		out += fmt.Sprintf("- %s %s\n", p.Importance.icon(), p.Summary)
	}

	if extra := len(patches) - len(shown); extra > 0 {
		out += fmt.Sprintf("…and %d more events\n", extra)
	}

	return out, true
}

// summarize renders one event as a short human-readable line.
func summarize(evt eventbus.Event) string {
	str := func(key string) string {
		v, _ := evt.Payload[key].(string)
		return v
	}

	switch evt.Type {
	case eventbus.ChapterSwitched:
		return fmt.Sprintf("Switched to chapter: %q", str("title"))
	case eventbus.BranchSwitched:
		return fmt.Sprintf("Switched to branch: %q", str("name"))
	case eventbus.AnalysisCompleted:
		return "Manuscript analysis completed"
	case eventbus.MemoryCreated:
		return "A session memory was saved"
	case eventbus.SelectionChanged:
		return "User changed their text selection"
	case eventbus.CursorMoved:
		return "User moved the cursor"
	case eventbus.PanelSwitched:
		if panel := str("panel"); panel != "" {
			return fmt.Sprintf("Switched to panel: %q", panel)
		}
		return "Switched panels"
	case eventbus.LoreUpdated:
		if name := str("name"); name != "" {
			return fmt.Sprintf("Lore updated: %q", name)
		}
		return "Lore updated"
	case eventbus.ZenModeToggled:
		if enabled, _ := evt.Payload["enabled"].(bool); enabled {
			return "Zen mode enabled"
		}
		return "Zen mode disabled"
	case eventbus.DocumentSaved:
		return "Document saved"
	default:
		return ""
	}
}
