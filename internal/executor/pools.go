// Package executor owns the server's execution contexts: a scheduling pool for
// short timer-driven work, an import pool for blocking build-tool calls and a
// background compilation pool gated by a separate set of compile permits.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool names, used in logs and metrics.
const (
	SchedulingPool = "scheduling"
	ImportPool     = "import"
	CompilePool    = "compile"
)

const defaultShutdownTimeout = 5 * time.Second

// Config sizes the pools.
type Config struct {
	SchedulingWorkers int
	ImportWorkers     int
	CompileWorkers    int
	CompilePermits    int
	QueueSize         int
	ShutdownTimeout   time.Duration

	// OnReject is called with the pool name when a submission is rejected.
	OnReject func(pool string)
	// OnPermitsChanged is called with the number of compile permits in use.
	OnPermitsChanged func(inUse int64)
}

// DefaultConfig returns the default pool sizing.
func DefaultConfig() Config {
	return Config{
		SchedulingWorkers: 1,
		ImportWorkers:     2,
		CompileWorkers:    2,
		CompilePermits:    1,
		QueueSize:         256,
		ShutdownTimeout:   defaultShutdownTimeout,
	}
}

// Pools ties the three pools and the compile permit semaphore together.
type Pools struct {
	logger *slog.Logger

	scheduling *Pool
	imports    *Pool
	compile    *Pool

	permits       *semaphore.Weighted
	permitCount   int64
	permitsInUse  atomic.Int64
	onPermits     func(int64)
	shutdownAfter time.Duration

	timersMu sync.Mutex
	timers   map[uint64]*time.Timer
	nextID   uint64
	stopped  bool

	once        sync.Once
	shutdownErr error
}

// New starts the pools.
func New(cfg Config, logger *slog.Logger) *Pools {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.CompilePermits <= 0 {
		cfg.CompilePermits = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger.Debug("Starting executor pools",
		"scheduling", cfg.SchedulingWorkers,
		"import", cfg.ImportWorkers,
		"compile", cfg.CompileWorkers,
		"permits", cfg.CompilePermits,
		"queueSize", cfg.QueueSize)

	return &Pools{
		logger:        logger,
		scheduling:    newPool(SchedulingPool, cfg.SchedulingWorkers, cfg.QueueSize, logger, cfg.OnReject),
		imports:       newPool(ImportPool, cfg.ImportWorkers, cfg.QueueSize, logger, cfg.OnReject),
		compile:       newPool(CompilePool, cfg.CompileWorkers, cfg.QueueSize, logger, cfg.OnReject),
		permits:       semaphore.NewWeighted(int64(cfg.CompilePermits)),
		permitCount:   int64(cfg.CompilePermits),
		onPermits:     cfg.OnPermitsChanged,
		shutdownAfter: cfg.ShutdownTimeout,
		timers:        make(map[uint64]*time.Timer),
	}
}

// Scheduling returns the scheduling pool.
func (p *Pools) Scheduling() *Pool { return p.scheduling }

// Import returns the classpath import pool.
func (p *Pools) Import() *Pool { return p.imports }

// Compile returns the background compilation pool.
func (p *Pools) Compile() *Pool { return p.compile }

// SubmitScheduling queues a short non-blocking task.
func (p *Pools) SubmitScheduling(ctx context.Context, task Task) error {
	return p.scheduling.Submit(ctx, task)
}

// SubmitImport queues a blocking build-tool task.
func (p *Pools) SubmitImport(ctx context.Context, task Task) error {
	return p.imports.Submit(ctx, task)
}

// SubmitCompile queues a compilation task and returns its deferred result.
func (p *Pools) SubmitCompile(ctx context.Context, fn func(ctx context.Context) error) (*Future, error) {
	return p.compile.SubmitFuture(ctx, fn)
}

// AcquireCompilePermit blocks until a compile permit is available or ctx is done.
// The returned release func is safe to call more than once.
func (p *Pools) AcquireCompilePermit(ctx context.Context) (release func(), err error) {
	if p.IsShutdown() {
		return nil, ErrShutdown
	}
	if err := p.permits.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.notePermits(p.permitsInUse.Add(1))

	var once sync.Once
	return func() {
		once.Do(func() {
			p.notePermits(p.permitsInUse.Add(-1))
			p.permits.Release(1)
		})
	}, nil
}

func (p *Pools) notePermits(n int64) {
	if p.onPermits != nil {
		p.onPermits(n)
	}
}

// PermitsInUse returns the number of compile permits currently held.
func (p *Pools) PermitsInUse() int64 {
	return p.permitsInUse.Load()
}

// PermitCount returns the total number of compile permits.
func (p *Pools) PermitCount() int64 {
	return p.permitCount
}

// ScheduleAfter runs task on the scheduling pool once delay has elapsed.
// The returned cancel func stops a timer that has not fired yet.
func (p *Pools) ScheduleAfter(ctx context.Context, delay time.Duration, task Task) (cancel func()) {
	wrapped := Wrap(ctx, task)

	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	if p.stopped {
		return func() {}
	}
	id := p.nextID
	p.nextID++

	t := time.AfterFunc(delay, func() {
		p.timersMu.Lock()
		delete(p.timers, id)
		p.timersMu.Unlock()

		if err := p.scheduling.enqueue(job{run: wrapped}); err != nil {
			p.logger.Debug("Delayed task dropped", "error", err.Error())
		}
	})
	p.timers[id] = t

	return func() {
		p.timersMu.Lock()
		defer p.timersMu.Unlock()
		if t, ok := p.timers[id]; ok {
			t.Stop()
			delete(p.timers, id)
		}
	}
}

// ScheduleEvery runs task on the scheduling pool every interval until stop is
// called, ctx is done or the pools shut down.
func (p *Pools) ScheduleEvery(ctx context.Context, interval time.Duration, task Task) (stop func()) {
	if interval <= 0 || p.IsShutdown() {
		return func() {}
	}
	wrapped := Wrap(ctx, task)
	quit := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.scheduling.enqueue(job{run: wrapped}); errors.Is(err, ErrShutdown) {
					return
				}
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-p.scheduling.done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(quit) }) }
}

// IsShutdown reports whether ShutdownAll has been called.
func (p *Pools) IsShutdown() bool {
	p.scheduling.mu.RLock()
	defer p.scheduling.mu.RUnlock()
	return p.scheduling.closed
}

// ShutdownAll stops all pools. Queued tasks are abandoned and their futures
// complete with ErrShutdown. Running tasks see their context cancelled and are
// waited for up to the configured timeout. Safe to call more than once.
func (p *Pools) ShutdownAll() error {
	p.once.Do(func() {
		p.logger.Debug("Shutting down executor pools")

		p.timersMu.Lock()
		p.stopped = true
		for id, t := range p.timers {
			t.Stop()
			delete(p.timers, id)
		}
		p.timersMu.Unlock()

		pools := []*Pool{p.scheduling, p.imports, p.compile}
		for _, pool := range pools {
			pool.shutdown()
		}

		done := make(chan struct{})
		go func() {
			for _, pool := range pools {
				pool.wg.Wait()
			}
			close(done)
		}()

		drainAll := func() {
			abandoned := 0
			for _, pool := range pools {
				abandoned += pool.drain()
			}
			if abandoned > 0 {
				p.logger.Debug("Abandoned queued tasks", "count", abandoned)
			}
		}

		select {
		case <-done:
			drainAll()
		case <-time.After(p.shutdownAfter):
			p.shutdownErr = fmt.Errorf("executor shutdown timed out after %v", p.shutdownAfter)
			p.logger.Warn("Executor shutdown timed out", "timeout", p.shutdownAfter.String())
			go func() {
				<-done
				drainAll()
			}()
		}
	})
	return p.shutdownErr
}

// Stats returns statistics for every pool.
func (p *Pools) Stats() []PoolStats {
	return []PoolStats{p.scheduling.Stats(), p.imports.Stats(), p.compile.Stats()}
}
