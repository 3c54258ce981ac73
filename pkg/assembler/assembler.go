// Package assembler builds the token-budgeted context block sent to the
// model on each turn. A fixed total budget is split across named sections
// using configured proportions; sections that do not fit are truncated or
// omitted, and both are reported back for observability.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/pkg/appstate"
	"github.com/inkwell/vellum/pkg/history"
	"github.com/inkwell/vellum/pkg/memory"
)

// Section names in render order.
var sectionOrder = []string{
	SectionManuscript,
	SectionIntelligence,
	SectionAnalysis,
	SectionMemory,
	SectionLore,
	SectionHistory,
}

const (
	SectionManuscript   = "manuscript"
	SectionIntelligence = "intelligence"
	SectionAnalysis     = "analysis"
	SectionMemory       = "memory"
	SectionLore         = "lore"
	SectionHistory      = "history"
)

// Profile describes what kind of turn the context is being built for.
type Profile struct {
	Mode      string `json:"mode"`       // "chat", "edit", ...
	QueryType string `json:"query_type"` // free text hint used for memory retrieval
}

// Result is the assembled context plus its accounting.
type Result struct {
	Context           string   `json:"context"`
	TokenCount        int      `json:"token_count"`
	SectionsIncluded  []string `json:"sections_included"`
	SectionsTruncated []string `json:"sections_truncated"`
	SectionsOmitted   []string `json:"sections_omitted"`
	Budget            int      `json:"budget"`
}

// MemoryProvider supplies session memories for the memory section.
type MemoryProvider interface {
	Search(ctx context.Context, projectID, query string, limit int) ([]memory.Note, error)
}

// HistoryProvider supplies recent tool executions for the history section.
type HistoryProvider interface {
	Recent(ctx context.Context, sessionID string, n int) ([]history.Record, error)
}

// Config holds assembler configuration
type Config struct {
	// TokenBudget is the total context budget (default 8000)
	TokenBudget int
	// Proportions maps section name to its share of the budget; shares must
	// sum to roughly 1.0
	Proportions map[string]float64
	// Memory and History are optional; their sections are omitted when nil
	Memory  MemoryProvider
	History HistoryProvider
	Logger  zerolog.Logger
}

// Assembler allocates the token budget across context sections.
type Assembler struct {
	budget      int
	proportions map[string]float64
	memory      MemoryProvider
	history     HistoryProvider
	logger      zerolog.Logger
}

// New creates an Assembler
func New(cfg Config) (*Assembler, error) {
	observability.EnsureRegistered()

	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 8000
	}
	if len(cfg.Proportions) == 0 {
		return nil, errors.New("section proportions are required")
	}

	var sum float64
	for name, share := range cfg.Proportions {
		if share < 0 {
			return nil, fmt.Errorf("proportion for %s cannot be negative", name)
		}
		sum += share
	}
	if sum < 0.99 || sum > 1.01 {
		return nil, fmt.Errorf("section proportions must sum to 1.0, got %.2f", sum)
	}

	return &Assembler{
		budget:      cfg.TokenBudget,
		proportions: cfg.Proportions,
		memory:      cfg.Memory,
		history:     cfg.History,
		logger:      cfg.Logger.With().Str("component", "assembler").Logger(),
	}, nil
}

// EstimateTokens approximates the token count of a string. Rough heuristic:
// ~4 chars per token.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Assemble produces the budgeted context block for one turn.
func (a *Assembler) Assemble(ctx context.Context, snap appstate.Snapshot, projectID string, profile Profile) (Result, error) {
	if snap.Manuscript.ActiveChapter() == nil && len(snap.Manuscript.Chapters) == 0 {
		return Result{}, errors.New("snapshot has no manuscript")
	}

	result := Result{Budget: a.budget}
	var blocks []string

	for _, name := range sectionOrder {
		share := a.proportions[name]
		allotted := int(float64(a.budget) * share)
		if allotted <= 0 {
			result.SectionsOmitted = append(result.SectionsOmitted, name)
			continue
		}

		text, err := a.renderSection(ctx, name, snap, projectID, profile)
		if err != nil {
			// A failing provider drops its section rather than the turn.
			a.logger.Warn().Err(err).Str("section", name).Msg("Section render failed")
			result.SectionsOmitted = append(result.SectionsOmitted, name)
			continue
		}
		if strings.TrimSpace(text) == "" {
			result.SectionsOmitted = append(result.SectionsOmitted, name)
			continue
		}

		fitted, truncated := fitToTokens(text, allotted)
		block := fmt.Sprintf("## %s\n%s", strings.ToUpper(name), fitted)

		blocks = append(blocks, block)
		result.SectionsIncluded = append(result.SectionsIncluded, name)
		if truncated {
			result.SectionsTruncated = append(result.SectionsTruncated, name)
		}
	}

	if len(blocks) == 0 {
		return Result{}, errors.New("no sections could be assembled")
	}

	result.Context = strings.Join(blocks, "\n\n")
	result.TokenCount = EstimateTokens(result.Context)

	a.logger.Debug().
		Int("tokens", result.TokenCount).
		Int("budget", result.Budget).
		Strs("included", result.SectionsIncluded).
		Strs("truncated", result.SectionsTruncated).
		Strs("omitted", result.SectionsOmitted).
		Msg("Context assembled")

	observability.RecordContextAssembly(result.TokenCount, result.SectionsTruncated, result.SectionsOmitted)

	return result, nil
}

// renderSection produces the raw (unbudgeted) text for one section.
func (a *Assembler) renderSection(ctx context.Context, name string, snap appstate.Snapshot, projectID string, profile Profile) (string, error) {
	switch name {
	case SectionManuscript:
		return renderManuscript(snap), nil

	case SectionIntelligence:
		return snap.Intelligence, nil

	case SectionAnalysis:
		return renderAnalysis(snap.Analysis), nil

	case SectionMemory:
		if a.memory == nil {
			return "", nil
		}
		notes, err := a.memory.Search(ctx, projectID, profile.QueryType, 5)
		if err != nil {
			return "", fmt.Errorf("memory lookup failed: %w", err)
		}
		return renderMemory(notes), nil

	case SectionLore:
		return renderLore(snap.Lore), nil

	case SectionHistory:
		if a.history == nil {
			return "", nil
		}
		records, err := a.history.Recent(ctx, projectID, 10)
		if err != nil {
			return "", fmt.Errorf("history lookup failed: %w", err)
		}
		return renderHistory(records), nil

	default:
		return "", fmt.Errorf("unknown section: %s", name)
	}
}

func renderManuscript(snap appstate.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Chapters: %d\n", len(snap.Manuscript.Chapters))
	for _, ch := range snap.Manuscript.Chapters {
		marker := " "
		if ch.ID == snap.Manuscript.ActiveChapterID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s (%d words)\n", marker, ch.Title, ch.WordCount)
	}

	if active := snap.Manuscript.ActiveChapter(); active != nil {
		fmt.Fprintf(&b, "\nActive chapter %q:\n%s", active.Title, active.Text)
	}

	if snap.Selection.Text != "" {
		fmt.Fprintf(&b, "\n\nUser's current selection:\n%s", snap.Selection.Text)
	}

	return b.String()
}

func renderAnalysis(analysis *appstate.AnalysisResult) string {
	if analysis == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(analysis.Summary)
	if analysis.Pacing != "" {
		fmt.Fprintf(&b, "\nPacing: %s", analysis.Pacing)
	}
	return b.String()
}

func renderMemory(notes []memory.Note) string {
	if len(notes) == 0 {
		return ""
	}

	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s\n", n.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderLore(entries []appstate.LoreEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%s): %s\n", e.Name, e.Kind, e.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHistory(records []history.Record) string {
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent actions:\n")
	for _, r := range records {
		outcome := "ok"
		if !r.Success {
			outcome = "failed"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", r.ToolName, outcome)
	}
	return strings.TrimRight(b.String(), "\n")
}

// fitToTokens trims text to the allotted token count, cutting on a line
// boundary where possible.
func fitToTokens(text string, tokens int) (string, bool) {
	maxChars := tokens * 4
	if len(text) <= maxChars {
		return text, false
	}

	cut := text[:maxChars]
	if idx := strings.LastIndexByte(cut, '\n'); idx > maxChars/2 {
		cut = cut[:idx]
	}

	return cut + "\n[truncated]", true
}
