package appstate

import (
	"strings"
	"time"
)

// Chapter is one manuscript chapter
type Chapter struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Manuscript holds the document being edited
type Manuscript struct {
	Chapters        []Chapter `json:"chapters"`
	ActiveChapterID string    `json:"active_chapter_id"`
}

// ActiveChapter returns the active chapter, or nil when none is selected
func (m *Manuscript) ActiveChapter() *Chapter {
	for i := range m.Chapters {
		if m.Chapters[i].ID == m.ActiveChapterID {
			return &m.Chapters[i]
		}
	}
	return nil
}

// FullText joins all chapter text in order
func (m *Manuscript) FullText() string {
	parts := make([]string, 0, len(m.Chapters))
	for _, ch := range m.Chapters {
		parts = append(parts, ch.Text)
	}
	return strings.Join(parts, "\n\n")
}

// LoreEntry is a single worldbuilding note
type LoreEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"` // character, place, object, concept
	Summary string `json:"summary"`
}

// AnalysisResult is the latest manuscript analysis output
type AnalysisResult struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Pacing    string    `json:"pacing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Selection describes the editor's current selection and cursor
type Selection struct {
	Text        string `json:"text"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	CursorIndex int    `json:"cursor_index"`
}

// Settings holds per-project assistant settings
type Settings struct {
	PersonaName string `json:"persona_name"`
	ZenMode     bool   `json:"zen_mode"`
}

// Snapshot is a read-only view of the application state taken at turn start.
// The runtime never mutates it.
type Snapshot struct {
	ProjectID    string          `json:"project_id"`
	Manuscript   Manuscript      `json:"manuscript"`
	Lore         []LoreEntry     `json:"lore"`
	Analysis     *AnalysisResult `json:"analysis,omitempty"`
	Intelligence string          `json:"intelligence"` // condensed story intelligence summary
	MemoryNotes  []string        `json:"memory_notes,omitempty"`
	Selection    Selection       `json:"selection"`
	Settings     Settings        `json:"settings"`
	TakenAt      time.Time       `json:"taken_at"`
}

// Provider supplies the current application state to the runtime
type Provider interface {
	Snapshot() Snapshot
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func() Snapshot

func (f ProviderFunc) Snapshot() Snapshot { return f() }
