package executor

import (
	"context"
	"sync"
	"time"
)

type pendingTask struct {
	ctx    context.Context
	task   Task
	cancel func()
}

// Debouncer delays a keyed task until a quiet period has passed. Each Trigger
// for the same key resets the timer; only the most recent task runs, on the
// scheduling pool.
type Debouncer struct {
	pools   *Pools
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*pendingTask
}

// NewDebouncer creates a debouncer firing on p's scheduling pool.
func (p *Pools) NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		pools:   p,
		delay:   delay,
		pending: make(map[string]*pendingTask),
	}
}

// Trigger schedules or resets the debounced task for key
func (d *Debouncer) Trigger(ctx context.Context, key string, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[key]; ok {
		prev.cancel()
	}

	pt := &pendingTask{ctx: ctx, task: task}
	pt.cancel = d.pools.ScheduleAfter(ctx, d.delay, func(runCtx context.Context) {
		d.mu.Lock()
		if d.pending[key] != pt {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		task(runCtx)
	})
	d.pending[key] = pt
}

// Cancel drops any pending task for key
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pt, ok := d.pending[key]; ok {
		pt.cancel()
		delete(d.pending, key)
	}
}

// Flush submits the pending task for key immediately
func (d *Debouncer) Flush(key string) error {
	d.mu.Lock()
	pt, ok := d.pending[key]
	if ok {
		pt.cancel()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !ok {
		return nil
	}
	return d.pools.SubmitScheduling(pt.ctx, pt.task)
}

// Pending returns the number of keys with a scheduled task
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
