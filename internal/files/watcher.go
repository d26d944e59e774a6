package files

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one file system change under the watched root.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// ChangeHandler receives a debounced batch of events.
type ChangeHandler func(events []Event)

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Debounce time.Duration
	// SkipDir reports directory base names that are not watched.
	SkipDir func(name string) bool
	// Relevant filters files. Nil accepts every file.
	Relevant func(path string) bool
}

// Watcher watches a workspace tree with fsnotify and hands batches of
// relevant events to a handler.
type Watcher struct {
	config  WatcherConfig
	logger  *slog.Logger
	handler ChangeHandler
	root    string

	fsw   *fsnotify.Watcher
	batch *BatchDebouncer

	mu      sync.Mutex
	started bool
	watched int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher for root. Start begins delivering events.
func NewWatcher(root string, config WatcherConfig, logger *slog.Logger, handler ChangeHandler) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Debounce <= 0 {
		config.Debounce = 200 * time.Millisecond
	}
	w := &Watcher{config: config, logger: logger, handler: handler, root: root}
	w.batch = NewBatchDebouncer(config.Debounce, w.emit)
	return w
}

// Start registers every directory under root and runs the event loop until
// ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addDirs(w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch directories: %w", err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.started = true
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("Watching workspace", "root", w.root, "directories", w.watched)
	return nil
}

// Stop ends the event loop and drops pending events.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.batch.Cancel()
	return w.fsw.Close()
}

// Flush delivers pending events immediately.
func (w *Watcher) Flush() {
	w.batch.Flush()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.skip(filepath.Base(ev.Name)) {
				return
			}
			w.mu.Lock()
			if err := w.addDirs(ev.Name); err != nil {
				w.logger.Debug("Failed to watch new directory", "path", ev.Name, "error", err.Error())
			}
			w.mu.Unlock()
			return
		}
	}

	typ, ok := eventType(ev)
	if !ok {
		return
	}
	if w.config.Relevant != nil && !w.config.Relevant(ev.Name) {
		return
	}
	w.batch.Add(Event{Type: typ, Path: ev.Name, Timestamp: time.Now()})
}

func eventType(ev fsnotify.Event) (EventType, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventCreate, true
	case ev.Has(fsnotify.Write):
		return EventModify, true
	case ev.Has(fsnotify.Remove):
		return EventDelete, true
	case ev.Has(fsnotify.Rename):
		return EventRename, true
	}
	return 0, false
}

func (w *Watcher) skip(name string) bool {
	return w.config.SkipDir != nil && w.config.SkipDir(name)
}

// addDirs adds dir and its subdirectories. Caller holds mu.
func (w *Watcher) addDirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skip(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.watched++
		return nil
	})
}

func (w *Watcher) emit(events []Event) {
	w.logger.Debug("File changes detected", "root", w.root, "eventCount", len(events))
	if w.handler != nil {
		w.handler(events)
	}
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]interface{}{
		"running":     w.started,
		"directories": w.watched,
		"pending":     w.batch.EventCount(),
		"debounceMs":  w.config.Debounce.Milliseconds(),
	}
}
