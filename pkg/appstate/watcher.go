package appstate

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/pkg/eventbus"
)

// SaveWatcher watches the project directory for manuscript autosaves and
// publishes document_saved events on the bus.
type SaveWatcher struct {
	watcher  *fsnotify.Watcher
	bus      *eventbus.Bus
	logger   zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSaveWatcher creates a watcher publishing to the given bus
func NewSaveWatcher(bus *eventbus.Bus, logger zerolog.Logger) (*SaveWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &SaveWatcher{
		watcher:  watcher,
		bus:      bus,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go sw.run()

	return sw, nil
}

// Watch starts watching a project directory
func (sw *SaveWatcher) Watch(path string) error {
	return sw.watcher.Add(path)
}

// Stop stops the watcher
func (sw *SaveWatcher) Stop() error {
	var err error
	sw.stopOnce.Do(func() {
		close(sw.stopCh)
		err = sw.watcher.Close()
	})
	return err
}

func (sw *SaveWatcher) run() {
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			name := strings.ToLower(event.Name)
			if !strings.HasSuffix(name, ".md") && !strings.HasSuffix(name, ".json") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				sw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Autosave detected")

				sw.schedulePublish(filepath.Base(event.Name))
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Error().Err(err).Msg("Save watcher error")

		case <-sw.stopCh:
			return
		}
	}
}

// schedulePublish debounces bursts of writes into one event
func (sw *SaveWatcher) schedulePublish(file string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, func() {
		sw.bus.PublishType(eventbus.DocumentSaved, map[string]interface{}{
			"file": file,
		})
	})
}
