package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	glserrors "groovyls/internal/errors"
)

var (
	// ErrShutdown is returned for submissions after ShutdownAll.
	ErrShutdown = glserrors.NewGlsError(glserrors.PoolShutdown, "executor pools are shut down", nil)
	// ErrQueueFull is returned when a pool has no free queue slot.
	ErrQueueFull = glserrors.NewGlsError(glserrors.QueueFull, "pool queue is full", nil)
)

type job struct {
	run     Task
	abandon func()
}

// Pool runs tasks on a fixed set of worker goroutines reading a bounded queue.
type Pool struct {
	name    string
	logger  *slog.Logger
	workers int

	queue    chan job
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	onReject func(pool string)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Name          string `json:"name" yaml:"name"`
	Workers       int    `json:"workers" yaml:"workers"`
	QueueLength   int    `json:"queueLength" yaml:"queueLength"`
	QueueCapacity int    `json:"queueCapacity" yaml:"queueCapacity"`
	Active        int64  `json:"active" yaml:"active"`
	Completed     int64  `json:"completed" yaml:"completed"`
	Rejected      int64  `json:"rejected" yaml:"rejected"`
	Panics        int64  `json:"panics" yaml:"panics"`
}

func newPool(name string, workers, queueSize int, logger *slog.Logger, onReject func(string)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:     name,
		logger:   logger,
		workers:  workers,
		queue:    make(chan job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		onReject: onReject,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Submit queues task for execution with the project carried by ctx.
// It never blocks: a full queue returns ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	return p.enqueue(job{run: Wrap(ctx, task)})
}

// SubmitFuture queues fn and returns a Future completed with its error.
// A panic in fn completes the future with an INTERNAL_ERROR.
func (p *Pool) SubmitFuture(ctx context.Context, fn func(ctx context.Context) error) (*Future, error) {
	fut := newFuture()
	run := Wrap(ctx, func(runCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				fut.complete(glserrors.NewGlsError(glserrors.InternalError, fmt.Sprintf("task panicked: %v", r), nil))
				panic(r)
			}
		}()
		fut.complete(fn(runCtx))
	})
	err := p.enqueue(job{run: run, abandon: func() { fut.complete(ErrShutdown) }})
	if err != nil {
		return nil, err
	}
	return fut, nil
}

func (p *Pool) enqueue(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.reject()
		return ErrShutdown
	}
	select {
	case p.queue <- j:
		return nil
	default:
		p.reject()
		p.logger.Warn("Pool queue full, task rejected", "pool", p.name, "capacity", cap(p.queue))
		return ErrQueueFull
	}
}

func (p *Pool) reject() {
	p.rejected.Add(1)
	if p.onReject != nil {
		p.onReject(p.name)
	}
}

// worker processes tasks from the queue.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.queue:
			p.run(j)
		case <-p.done:
			p.logger.Debug("Pool worker stopping", "pool", p.name, "workerId", id)
			return
		}
	}
}

func (p *Pool) run(j job) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	j.run(p.ctx)
}

// shutdown stops accepting work, cancels the pool context and signals workers.
// Tasks still queued are abandoned.
func (p *Pool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	close(p.done)
}

// drain abandons queued tasks after the workers have exited.
func (p *Pool) drain() int {
	n := 0
	for {
		select {
		case j := <-p.queue:
			if j.abandon != nil {
				j.abandon()
			}
			n++
		default:
			return n
		}
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:          p.name,
		Workers:       p.workers,
		QueueLength:   len(p.queue),
		QueueCapacity: cap(p.queue),
		Active:        p.active.Load(),
		Completed:     p.completed.Load(),
		Rejected:      p.rejected.Load(),
		Panics:        p.panics.Load(),
	}
}
