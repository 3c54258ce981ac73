package eventbus

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return New(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
}

func TestSubscribePublish(t *testing.T) {
	t.Run("should deliver matching events", func(t *testing.T) {
		bus := testBus()
		defer bus.Close()

		ch, cancel := bus.Subscribe(4, ChapterSwitched)
		defer cancel()

		bus.PublishType(ChapterSwitched, map[string]interface{}{"title": "Ch 2"})

		select {
		case evt := <-ch:
			assert.Equal(t, ChapterSwitched, evt.Type)
			assert.Equal(t, "Ch 2", evt.Payload["title"])
			assert.False(t, evt.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("should filter non-matching types", func(t *testing.T) {
		bus := testBus()
		defer bus.Close()

		ch, cancel := bus.Subscribe(4, LoreUpdated)
		defer cancel()

		bus.PublishType(DocumentSaved, nil)

		select {
		case evt := <-ch:
			t.Fatalf("unexpected event: %v", evt.Type)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("should deliver all types when none specified", func(t *testing.T) {
		bus := testBus()
		defer bus.Close()

		ch, cancel := bus.Subscribe(4)
		defer cancel()

		bus.PublishType(ZenModeToggled, nil)

		select {
		case evt := <-ch:
			assert.Equal(t, ZenModeToggled, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("should not block on slow subscriber", func(t *testing.T) {
		bus := testBus()
		defer bus.Close()

		_, cancel := bus.Subscribe(1, CursorMoved)
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				bus.PublishType(CursorMoved, nil)
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on full subscriber")
		}
	})
}

func TestCancel(t *testing.T) {
	bus := testBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(4, DocumentSaved)
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Channel is closed after cancel
	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent
	cancel()
}

func TestClose(t *testing.T) {
	bus := testBus()

	ch1, _ := bus.Subscribe(4)
	ch2, _ := bus.Subscribe(4)

	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)
}
