package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, limit int) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New(Config{
		Path:   path,
		Limit:  limit,
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestNew(t *testing.T) {
	t.Run("should require a path", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("should default the limit", func(t *testing.T) {
		s := setupStore(t, 0)
		assert.Equal(t, 50, s.limit)
	})
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("should assign id and timestamp", func(t *testing.T) {
		s := setupStore(t, 10)

		rec, err := s.Append(ctx, Record{
			SessionID: "sess-1",
			ToolName:  "update_manuscript",
			Params:    map[string]interface{}{"foo": "bar"},
			Success:   true,
			Result:    "replaced 1 occurrence",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.Timestamp.IsZero())
	})

	t.Run("should require session and tool", func(t *testing.T) {
		s := setupStore(t, 10)

		_, err := s.Append(ctx, Record{ToolName: "x"})
		assert.Error(t, err)

		_, err = s.Append(ctx, Record{SessionID: "sess-1"})
		assert.Error(t, err)
	})

	t.Run("should record failures too", func(t *testing.T) {
		s := setupStore(t, 10)

		_, err := s.Append(ctx, Record{
			SessionID: "sess-1",
			ToolName:  "run_analysis",
			Success:   false,
			Result:    "analysis engine unavailable",
		})
		require.NoError(t, err)

		failed, err := s.BySuccess(ctx, "sess-1", false)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "run_analysis", failed[0].ToolName)
	})

	t.Run("should cap retained records per session", func(t *testing.T) {
		s := setupStore(t, 3)

		for i := 0; i < 6; i++ {
			_, err := s.Append(ctx, Record{
				SessionID: "sess-1",
				ToolName:  fmt.Sprintf("tool_%d", i),
				Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
				Success:   true,
			})
			require.NoError(t, err)
		}

		count, err := s.Count(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		recent, err := s.Recent(ctx, "sess-1", 10)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		// Newest first, oldest dropped
		assert.Equal(t, "tool_5", recent[0].ToolName)
		assert.Equal(t, "tool_3", recent[2].ToolName)
	})

	t.Run("should scope the cap to each session", func(t *testing.T) {
		s := setupStore(t, 2)

		for i := 0; i < 3; i++ {
			ts := time.Now().Add(time.Duration(i) * time.Millisecond)
			_, err := s.Append(ctx, Record{SessionID: "a", ToolName: "t", Timestamp: ts, Success: true})
			require.NoError(t, err)
			_, err = s.Append(ctx, Record{SessionID: "b", ToolName: "t", Timestamp: ts, Success: true})
			require.NoError(t, err)
		}

		for _, sess := range []string{"a", "b"} {
			count, err := s.Count(ctx, sess)
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		}
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, 10)

	base := time.Now()
	for i, tool := range []string{"update_manuscript", "query_lore", "update_manuscript"} {
		_, err := s.Append(ctx, Record{
			SessionID: "sess-1",
			ToolName:  tool,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Success:   i != 1,
			Params:    map[string]interface{}{"i": i},
		})
		require.NoError(t, err)
	}

	t.Run("should filter by tool", func(t *testing.T) {
		recs, err := s.ByTool(ctx, "sess-1", "update_manuscript")
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("should filter by success", func(t *testing.T) {
		ok, err := s.BySuccess(ctx, "sess-1", true)
		require.NoError(t, err)
		assert.Len(t, ok, 2)

		failed, err := s.BySuccess(ctx, "sess-1", false)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "query_lore", failed[0].ToolName)
	})

	t.Run("should round-trip params", func(t *testing.T) {
		recs, err := s.Recent(ctx, "sess-1", 1)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.EqualValues(t, 2, recs[0].Params["i"])
	})

	t.Run("should return nothing for unknown session", func(t *testing.T) {
		recs, err := s.Recent(ctx, "ghost", 10)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, 10)

	old := Record{SessionID: "sess-1", ToolName: "old", Timestamp: time.Now().Add(-48 * time.Hour), Success: true}
	fresh := Record{SessionID: "sess-1", ToolName: "fresh", Success: true}

	_, err := s.Append(ctx, old)
	require.NoError(t, err)
	_, err = s.Append(ctx, fresh)
	require.NoError(t, err)

	n, err := s.Compact(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	recs, err := s.Recent(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].ToolName)
}
