package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/vellum/pkg/appstate"
	"github.com/inkwell/vellum/pkg/history"
	"github.com/inkwell/vellum/pkg/tooldispatch"
)

type fakeEditing struct {
	count int
	err   error
	calls [][2]string
}

func (f *fakeEditing) ReplaceInActiveChapter(ctx context.Context, search, replace string) (int, error) {
	f.calls = append(f.calls, [2]string{search, replace})
	return f.count, f.err
}

type fakeNavigation struct {
	err    error
	opened []string
}

func (f *fakeNavigation) SwitchToChapter(ctx context.Context, title string) error {
	f.opened = append(f.opened, title)
	return f.err
}

type fakeAnalysis struct {
	summary string
	err     error
	scopes  []string
}

func (f *fakeAnalysis) RunAnalysis(ctx context.Context, scope string) (string, error) {
	f.scopes = append(f.scopes, scope)
	return f.summary, f.err
}

type fakeKnowledge struct {
	entries []appstate.LoreEntry
	err     error
}

func (f *fakeKnowledge) QueryLore(ctx context.Context, query string) ([]appstate.LoreEntry, error) {
	return f.entries, f.err
}

type fakeUI struct {
	sel appstate.Selection
}

func (f *fakeUI) Selection() appstate.Selection { return f.sel }

type fakeGeneration struct {
	id  string
	err error
}

func (f *fakeGeneration) CreateMemory(ctx context.Context, content string) (string, error) {
	return f.id, f.err
}

func setupDispatcher(t *testing.T) *tooldispatch.Dispatcher {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	store, err := history.New(history.Config{
		Path:   filepath.Join(t.TempDir(), "history.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := tooldispatch.New(store, nil, nil, logger)
	require.NoError(t, RegisterAll(d))

	return d
}

func TestRegisterAll(t *testing.T) {
	d := setupDispatcher(t)

	for _, name := range []string{
		"update_manuscript", "navigate_to_chapter", "run_analysis",
		"query_lore", "create_memory", "read_selection",
	} {
		assert.NotNil(t, d.Tool(name), name)
	}
}

func TestUpdateManuscript(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	t.Run("should report the replacement count", func(t *testing.T) {
		editing := &fakeEditing{count: 2}
		deps := &tooldispatch.Dependencies{Editing: editing}

		result := d.Dispatch(ctx, "update_manuscript", map[string]interface{}{
			"search":  "teh",
			"replace": "the",
		}, deps, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Contains(t, result.Message, "Replaced 2 occurrence(s)")
		require.Len(t, editing.calls, 1)
		assert.Equal(t, [2]string{"teh", "the"}, editing.calls[0])
	})

	t.Run("should fail when nothing matches", func(t *testing.T) {
		deps := &tooldispatch.Dependencies{Editing: &fakeEditing{count: 0}}

		result := d.Dispatch(ctx, "update_manuscript", map[string]interface{}{
			"search":  "ghost",
			"replace": "spirit",
		}, deps, "proj-1")

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "no occurrences")
	})

	t.Run("should fail without editing support", func(t *testing.T) {
		result := d.Dispatch(ctx, "update_manuscript", map[string]interface{}{
			"search":  "a",
			"replace": "b",
		}, &tooldispatch.Dependencies{}, "proj-1")

		assert.False(t, result.Success)
	})
}

func TestNavigateToChapter(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	t.Run("should switch chapters", func(t *testing.T) {
		nav := &fakeNavigation{}
		result := d.Dispatch(ctx, "navigate_to_chapter", map[string]interface{}{
			"title": "Ch 2",
		}, &tooldispatch.Dependencies{Navigation: nav}, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Equal(t, []string{"Ch 2"}, nav.opened)
	})

	t.Run("should surface navigation errors", func(t *testing.T) {
		nav := &fakeNavigation{err: fmt.Errorf("no such chapter")}
		result := d.Dispatch(ctx, "navigate_to_chapter", map[string]interface{}{
			"title": "Ch 99",
		}, &tooldispatch.Dependencies{Navigation: nav}, "proj-1")

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "no such chapter")
	})
}

func TestRunAnalysis(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	t.Run("should default the scope to full", func(t *testing.T) {
		analysis := &fakeAnalysis{summary: "Pacing is steady."}
		result := d.Dispatch(ctx, "run_analysis", map[string]interface{}{},
			&tooldispatch.Dependencies{Analysis: analysis}, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Equal(t, "Pacing is steady.", result.Message)
		assert.Equal(t, []string{"full"}, analysis.scopes)
	})
}

func TestQueryLore(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	t.Run("should list matching entries", func(t *testing.T) {
		knowledge := &fakeKnowledge{entries: []appstate.LoreEntry{
			{Name: "Mira", Kind: "character", Summary: "The heroine"},
		}}
		result := d.Dispatch(ctx, "query_lore", map[string]interface{}{
			"query": "Mira",
		}, &tooldispatch.Dependencies{Knowledge: knowledge}, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Contains(t, result.Message, "Mira (character): The heroine")
	})

	t.Run("should report an empty result set", func(t *testing.T) {
		result := d.Dispatch(ctx, "query_lore", map[string]interface{}{
			"query": "nobody",
		}, &tooldispatch.Dependencies{Knowledge: &fakeKnowledge{}}, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Contains(t, result.Message, "No lore entries")
	})
}

func TestCreateMemory(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	result := d.Dispatch(ctx, "create_memory", map[string]interface{}{
		"content": "Mira fears deep water",
	}, &tooldispatch.Dependencies{Generation: &fakeGeneration{id: "note-1"}}, "proj-1")

	require.True(t, result.Success, result.Error)
	assert.Contains(t, result.Message, "note-1")
}

func TestReadSelection(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	t.Run("should return the selected text", func(t *testing.T) {
		ui := &fakeUI{sel: appstate.Selection{Text: "the storm broke", Start: 10, End: 25}}
		result := d.Dispatch(ctx, "read_selection", nil,
			&tooldispatch.Dependencies{UI: ui}, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Contains(t, result.Message, "the storm broke")
	})

	t.Run("should report an empty selection", func(t *testing.T) {
		result := d.Dispatch(ctx, "read_selection", nil,
			&tooldispatch.Dependencies{UI: &fakeUI{}}, "proj-1")

		require.True(t, result.Success, result.Error)
		assert.Equal(t, "Nothing is selected.", result.Message)
	})
}
