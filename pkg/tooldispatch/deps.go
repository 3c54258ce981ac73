package tooldispatch

import (
	"context"

	"github.com/inkwell/vellum/pkg/appstate"
)

// Editing mutates manuscript text.
type Editing interface {
	// ReplaceInActiveChapter replaces occurrences of search with replace in
	// the active chapter and returns the number of replacements made.
	ReplaceInActiveChapter(ctx context.Context, search, replace string) (int, error)
}

// Navigation moves the user's view between chapters and branches.
type Navigation interface {
	SwitchToChapter(ctx context.Context, title string) error
}

// Analysis triggers manuscript analysis runs.
type Analysis interface {
	// RunAnalysis runs the named analysis scope ("pacing", "full", ...) and
	// returns a human-readable summary.
	RunAnalysis(ctx context.Context, scope string) (string, error)
}

// Knowledge answers queries against the project's lore entries.
type Knowledge interface {
	QueryLore(ctx context.Context, query string) ([]appstate.LoreEntry, error)
}

// UI exposes the current editor surface state.
type UI interface {
	Selection() appstate.Selection
}

// Generation creates durable artifacts from model output, such as session
// memories.
type Generation interface {
	// CreateMemory stores a memory note and returns its identifier.
	CreateMemory(ctx context.Context, content string) (string, error)
}

// Dependencies is the action bundle handed to every tool executor. Fields a
// given tool does not use may be nil; executors must check before use.
type Dependencies struct {
	Editing    Editing
	Navigation Navigation
	Analysis   Analysis
	Knowledge  Knowledge
	UI         UI
	Generation Generation
}
