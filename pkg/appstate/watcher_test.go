package appstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/vellum/pkg/eventbus"
)

func TestSaveWatcher(t *testing.T) {
	tmpDir := t.TempDir()
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	bus := eventbus.New(logger)
	defer bus.Close()

	ch, cancel := bus.Subscribe(4, eventbus.DocumentSaved)
	defer cancel()

	sw, err := NewSaveWatcher(bus, logger)
	require.NoError(t, err)
	defer sw.Stop()

	sw.debounce = 20 * time.Millisecond
	require.NoError(t, sw.Watch(tmpDir))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "draft.md"), []byte("# Ch 1"), 0644))

	select {
	case evt := <-ch:
		assert.Equal(t, eventbus.DocumentSaved, evt.Type)
		assert.Equal(t, "draft.md", evt.Payload["file"])
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for document_saved event")
	}
}

func TestSaveWatcherIgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	bus := eventbus.New(logger)
	defer bus.Close()

	ch, cancel := bus.Subscribe(4, eventbus.DocumentSaved)
	defer cancel()

	sw, err := NewSaveWatcher(bus, logger)
	require.NoError(t, err)
	defer sw.Stop()

	sw.debounce = 20 * time.Millisecond
	require.NoError(t, sw.Watch(tmpDir))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "draft.tmp"), []byte("x"), 0644))

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for %v", evt.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSaveWatcherStopIsIdempotent(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	bus := eventbus.New(logger)
	defer bus.Close()

	sw, err := NewSaveWatcher(bus, logger)
	require.NoError(t, err)

	require.NoError(t, sw.Stop())
	require.NoError(t, sw.Stop())
}
