package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/pkg/appstate"
	"github.com/inkwell/vellum/pkg/eventbus"
	"github.com/inkwell/vellum/pkg/memory"
	"github.com/inkwell/vellum/pkg/tooldispatch"
)

// stateBridge adapts the application state store to the tool dependency
// interfaces. All tool side effects on editor state flow through here.
type stateBridge struct {
	state  *appstate.Store
	notes  *memory.Store
	bus    *eventbus.Bus
	logger zerolog.Logger
}

// newToolDependencies bundles the bridge into the dispatcher's dependency
// set.
func newToolDependencies(state *appstate.Store, notes *memory.Store, bus *eventbus.Bus, logger zerolog.Logger) *tooldispatch.Dependencies {
	b := &stateBridge{
		state:  state,
		notes:  notes,
		bus:    bus,
		logger: logger.With().Str("component", "statebridge").Logger(),
	}
	return &tooldispatch.Dependencies{
		Editing:    b,
		Navigation: b,
		Analysis:   b,
		Knowledge:  b,
		UI:         b,
		Generation: b,
	}
}

func (b *stateBridge) ReplaceInActiveChapter(ctx context.Context, search, replace string) (int, error) {
	return b.state.ReplaceInActiveChapter(search, replace)
}

func (b *stateBridge) SwitchToChapter(ctx context.Context, title string) error {
	return b.state.SwitchToChapter(title)
}

func (b *stateBridge) QueryLore(ctx context.Context, query string) ([]appstate.LoreEntry, error) {
	return b.state.QueryLore(query), nil
}

func (b *stateBridge) Selection() appstate.Selection {
	return b.state.Snapshot().Selection
}

func (b *stateBridge) CreateMemory(ctx context.Context, content string) (string, error) {
	snap := b.state.Snapshot()

	note, err := b.notes.Create(ctx, snap.ProjectID, content)
	if err != nil {
		return "", err
	}

	b.state.AppendMemoryNote(note.Content)
	b.bus.PublishType(eventbus.MemoryCreated, map[string]interface{}{
		"note_id": note.ID,
	})

	return note.ID, nil
}

// RunAnalysis computes manuscript statistics for the requested scope and
// installs the result on the state store. Scope "full" covers the whole
// manuscript; anything else analyzes the active chapter only.
func (b *stateBridge) RunAnalysis(ctx context.Context, scope string) (string, error) {
	snap := b.state.Snapshot()

	var chapters []appstate.Chapter
	if strings.EqualFold(scope, "full") || scope == "" {
		chapters = snap.Manuscript.Chapters
	} else {
		active := snap.Manuscript.ActiveChapter()
		if active == nil {
			return "", fmt.Errorf("no active chapter to analyze")
		}
		chapters = []appstate.Chapter{*active}
	}
	if len(chapters) == 0 {
		return "", fmt.Errorf("manuscript has no chapters")
	}

	words := 0
	sentences := 0
	longest := chapters[0]
	for _, ch := range chapters {
		w := len(strings.Fields(ch.Text))
		words += w
		sentences += countSentences(ch.Text)
		if w > len(strings.Fields(longest.Text)) {
			longest = ch
		}
	}

	avgSentence := 0
	if sentences > 0 {
		avgSentence = words / sentences
	}

	pacing := "steady"
	switch {
	case avgSentence > 24:
		pacing = "slow"
	case avgSentence > 0 && avgSentence < 9:
		pacing = "brisk"
	}

	summary := fmt.Sprintf(
		"%d chapter(s), %d words, %d sentences (avg %d words/sentence). Pacing reads %s. Longest chapter: %q.",
		len(chapters), words, sentences, avgSentence, pacing, longest.Title,
	)

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	b.state.SetAnalysis(appstate.AnalysisResult{
		ID:        id,
		Summary:   summary,
		Pacing:    pacing,
		Timestamp: time.Now(),
	})

	b.logger.Debug().Str("scope", scope).Str("analysis_id", id).Msg("Analysis complete")
	return summary, nil
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}

// decodeSnapshot converts RPC params into a typed snapshot via JSON.
func decodeSnapshot(params map[string]interface{}) (appstate.Snapshot, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return appstate.Snapshot{}, fmt.Errorf("invalid state payload: %w", err)
	}

	var snap appstate.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return appstate.Snapshot{}, fmt.Errorf("invalid state payload: %w", err)
	}
	if snap.ProjectID == "" {
		return appstate.Snapshot{}, fmt.Errorf("project_id is required")
	}

	return snap, nil
}

func decodeSelection(params map[string]interface{}) (appstate.Selection, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return appstate.Selection{}, fmt.Errorf("invalid selection payload: %w", err)
	}

	var sel appstate.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return appstate.Selection{}, fmt.Errorf("invalid selection payload: %w", err)
	}

	return sel, nil
}
