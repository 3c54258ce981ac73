// Package coretools provides the baseline manuscript tools exposed to the
// model: text editing, navigation, analysis, lore lookup, memory creation
// and selection reading. Each tool is a thin adapter over the injected
// action dependencies.
package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkwell/vellum/pkg/tooldispatch"
)

// RegisterAll registers the baseline tool set on the dispatcher.
func RegisterAll(d *tooldispatch.Dispatcher) error {
	defs := []tooldispatch.ToolDefinition{
		UpdateManuscript(),
		NavigateToChapter(),
		RunAnalysis(),
		QueryLore(),
		CreateMemory(),
		ReadSelection(),
	}

	for _, def := range defs {
		if err := d.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}

	return nil
}

// UpdateManuscript replaces text in the active chapter.
func UpdateManuscript() tooldispatch.ToolDefinition {
	return tooldispatch.ToolDefinition{
		Name:        "update_manuscript",
		Description: "Replace text in the active chapter. Finds every occurrence of 'search' and replaces it with 'replace'.",
		Parameters: []tooldispatch.ToolParameter{
			{Name: "search", Type: "string", Description: "Exact text to find", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
		},
		Reversible: true,
		Handler: func(ctx context.Context, params map[string]interface{}, deps *tooldispatch.Dependencies) (string, error) {
			if deps == nil || deps.Editing == nil {
				return "", fmt.Errorf("editing is not available")
			}

			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			if search == "" {
				return "", fmt.Errorf("search text cannot be empty")
			}

			count, err := deps.Editing.ReplaceInActiveChapter(ctx, search, replace)
			if err != nil {
				return "", fmt.Errorf("replace failed: %w", err)
			}
			if count == 0 {
				return "", fmt.Errorf("no occurrences of %q found", search)
			}

			return fmt.Sprintf("Replaced %d occurrence(s) of %q.", count, search), nil
		},
	}
}

// NavigateToChapter switches the editor to the named chapter.
func NavigateToChapter() tooldispatch.ToolDefinition {
	return tooldispatch.ToolDefinition{
		Name:        "navigate_to_chapter",
		Description: "Switch the editor view to the chapter with the given title.",
		Parameters: []tooldispatch.ToolParameter{
			{Name: "title", Type: "string", Description: "Chapter title to open", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, deps *tooldispatch.Dependencies) (string, error) {
			if deps == nil || deps.Navigation == nil {
				return "", fmt.Errorf("navigation is not available")
			}

			title, _ := params["title"].(string)
			if strings.TrimSpace(title) == "" {
				return "", fmt.Errorf("chapter title cannot be empty")
			}

			if err := deps.Navigation.SwitchToChapter(ctx, title); err != nil {
				return "", fmt.Errorf("navigation failed: %w", err)
			}

			return fmt.Sprintf("Switched to chapter %q.", title), nil
		},
	}
}

// RunAnalysis triggers a manuscript analysis run.
func RunAnalysis() tooldispatch.ToolDefinition {
	return tooldispatch.ToolDefinition{
		Name:        "run_analysis",
		Description: "Run a manuscript analysis. Scope is 'pacing', 'characters' or 'full'.",
		Parameters: []tooldispatch.ToolParameter{
			{Name: "scope", Type: "string", Description: "Analysis scope", Required: false, Default: "full"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, deps *tooldispatch.Dependencies) (string, error) {
			if deps == nil || deps.Analysis == nil {
				return "", fmt.Errorf("analysis is not available")
			}

			scope, _ := params["scope"].(string)
			if scope == "" {
				scope = "full"
			}

			summary, err := deps.Analysis.RunAnalysis(ctx, scope)
			if err != nil {
				return "", fmt.Errorf("analysis failed: %w", err)
			}

			return summary, nil
		},
	}
}

// QueryLore searches the project's lore entries.
func QueryLore() tooldispatch.ToolDefinition {
	return tooldispatch.ToolDefinition{
		Name:        "query_lore",
		Description: "Search the project's lore (characters, places, objects, concepts) by free text.",
		Parameters: []tooldispatch.ToolParameter{
			{Name: "query", Type: "string", Description: "Search text", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, deps *tooldispatch.Dependencies) (string, error) {
			if deps == nil || deps.Knowledge == nil {
				return "", fmt.Errorf("lore lookup is not available")
			}

			query, _ := params["query"].(string)
			entries, err := deps.Knowledge.QueryLore(ctx, query)
			if err != nil {
				return "", fmt.Errorf("lore query failed: %w", err)
			}
			if len(entries) == 0 {
				return fmt.Sprintf("No lore entries match %q.", query), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d lore entries:\n", len(entries))
			for _, e := range entries {
				fmt.Fprintf(&b, "- %s (%s): %s\n", e.Name, e.Kind, e.Summary)
			}

			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

// CreateMemory stores a durable memory note about the session.
func CreateMemory() tooldispatch.ToolDefinition {
	return tooldispatch.ToolDefinition{
		Name:        "create_memory",
		Description: "Store a short note to remember across this writing session.",
		Parameters: []tooldispatch.ToolParameter{
			{Name: "content", Type: "string", Description: "What to remember", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, deps *tooldispatch.Dependencies) (string, error) {
			if deps == nil || deps.Generation == nil {
				return "", fmt.Errorf("memory creation is not available")
			}

			content, _ := params["content"].(string)
			if strings.TrimSpace(content) == "" {
				return "", fmt.Errorf("memory content cannot be empty")
			}

			id, err := deps.Generation.CreateMemory(ctx, content)
			if err != nil {
				return "", fmt.Errorf("failed to store memory: %w", err)
			}

			return fmt.Sprintf("Memory stored (%s).", id), nil
		},
	}
}

// ReadSelection reports the user's current editor selection.
func ReadSelection() tooldispatch.ToolDefinition {
	return tooldispatch.ToolDefinition{
		Name:        "read_selection",
		Description: "Read the text the user currently has selected in the editor.",
		Handler: func(ctx context.Context, params map[string]interface{}, deps *tooldispatch.Dependencies) (string, error) {
			if deps == nil || deps.UI == nil {
				return "", fmt.Errorf("editor state is not available")
			}

			sel := deps.UI.Selection()
			if sel.Text == "" {
				return "Nothing is selected.", nil
			}

			return fmt.Sprintf("Selected text (chars %d-%d):\n%s", sel.Start, sel.End, sel.Text), nil
		},
	}
}
