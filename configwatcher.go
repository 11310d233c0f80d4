package appfabric

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a configuration file and announces changes as
// config:changed events on the shared bus.
type ConfigWatcher struct {
	mu sync.Mutex

	path    string
	bus     *EventBus
	logger  Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigWatcher builds a watcher over the given file.
func NewConfigWatcher(path string, bus *EventBus, logger Logger) *ConfigWatcher {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &ConfigWatcher{path: path, bus: bus, logger: logger}
}

// Start begins watching. The parent directory is watched so editors
// that replace the file atomically are still observed.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return NewServiceError("ALREADY_INITIALIZED",
			"config watcher already started",
			map[string]any{"path": w.path}, WithCause(ErrAlreadyInitialized))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewConfigError("WATCH_FAILED",
			"failed to create filesystem watcher",
			map[string]any{"path": w.path}, WithCause(err))
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return NewConfigError("WATCH_FAILED",
			"failed to watch configuration directory",
			map[string]any{"path": w.path}, WithCause(err))
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(ctx, watcher, w.done)

	w.logger.Info("Watching configuration file", "path", w.path)
	return nil
}

func (w *ConfigWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("Configuration file changed", "path", w.path, "op", event.Op.String())
			if w.bus != nil {
				if _, err := w.bus.Emit(ctx, EventConfigChanged, map[string]any{"path": w.path}); err != nil {
					w.logger.Error("Failed to announce configuration change", "path", w.path, "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Configuration watch error", "path", w.path, "error", err)
		}
	}
}

// Stop ends the watch and waits for the loop to exit.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	watcher := w.watcher
	done := w.done
	w.watcher = nil
	w.done = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}
