package files

import (
	"sync"
	"time"
)

// BatchDebouncer collects watcher events per path and hands the batch to
// emit once the tree has been quiet for the delay.
type BatchDebouncer struct {
	delay time.Duration
	emit  func([]Event)

	mu      sync.Mutex
	timer   *time.Timer
	order   []string
	pending map[string]Event
}

func NewBatchDebouncer(delay time.Duration, emit func([]Event)) *BatchDebouncer {
	return &BatchDebouncer{
		delay:   delay,
		emit:    emit,
		pending: make(map[string]Event),
	}
}

// Add records ev, folding it into any pending event for the same path.
// A file created and deleted inside one window disappears from the batch.
func (b *BatchDebouncer) Add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, seen := b.pending[ev.Path]
	switch {
	case !seen:
		b.order = append(b.order, ev.Path)
	case prev.Type == EventCreate && ev.Type == EventDelete:
		delete(b.pending, ev.Path)
		b.restart()
		return
	case prev.Type == EventCreate && ev.Type == EventModify:
		ev.Type = EventCreate
	case prev.Type == EventDelete && ev.Type == EventCreate:
		ev.Type = EventModify
	}
	b.pending[ev.Path] = ev
	b.restart()
}

// restart must be called with mu held.
func (b *BatchDebouncer) restart() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.Flush)
}

// drain returns pending events in first-seen order and resets the batch.
func (b *BatchDebouncer) drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	out := make([]Event, 0, len(b.pending))
	for _, p := range b.order {
		if ev, ok := b.pending[p]; ok {
			out = append(out, ev)
			delete(b.pending, p)
		}
	}
	b.order = nil
	b.pending = make(map[string]Event)
	return out
}

// Flush emits pending events now.
func (b *BatchDebouncer) Flush() {
	if events := b.drain(); len(events) > 0 && b.emit != nil {
		b.emit(events)
	}
}

// Cancel drops pending events.
func (b *BatchDebouncer) Cancel() {
	b.drain()
}

func (b *BatchDebouncer) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
