package executor

import (
	"context"
	"errors"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	glserrors "groovyls/internal/errors"
)

func newTestPools(t *testing.T, cfg Config) *Pools {
	t.Helper()
	p := New(cfg, nil)
	t.Cleanup(func() { _ = p.ShutdownAll() })
	return p
}

func TestWrapPropagatesProject(t *testing.T) {
	submitCtx := WithProject(context.Background(), "/ws/app")

	var seen string
	var label string
	task := Wrap(submitCtx, func(ctx context.Context) {
		seen = ProjectFromContext(ctx)
		label, _ = pprof.Label(ctx, ProjectLabel)
	})

	// worker context carries no project of its own
	task(context.Background())

	assert.Equal(t, "/ws/app", seen)
	assert.Equal(t, "/ws/app", label)
}

func TestWrapSnapshotsAtWrapTime(t *testing.T) {
	ctx := WithProject(context.Background(), "/ws/a")
	var seen string
	task := Wrap(ctx, func(ctx context.Context) { seen = ProjectFromContext(ctx) })

	// a later context does not leak into the captured task
	_ = WithProject(ctx, "/ws/b")
	task(WithProject(context.Background(), "/ws/worker-stale"))

	assert.Equal(t, "/ws/a", seen)
}

func TestWrapClearsStaleWorkerProject(t *testing.T) {
	var seen string
	task := Wrap(context.Background(), func(ctx context.Context) { seen = ProjectFromContext(ctx) })

	task(WithProject(context.Background(), "/ws/previous"))

	assert.Empty(t, seen)
}

func TestProjectFromNilContext(t *testing.T) {
	assert.Empty(t, ProjectFromContext(nil))
}

func TestPoolRunsTasksWithProject(t *testing.T) {
	p := newTestPools(t, DefaultConfig())

	got := make(chan string, 1)
	err := p.SubmitImport(WithProject(context.Background(), "/ws/lib"), func(ctx context.Context) {
		got <- ProjectFromContext(ctx)
	})
	require.NoError(t, err)

	select {
	case root := <-got:
		assert.Equal(t, "/ws/lib", root)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSubmitCompileFuture(t *testing.T) {
	p := newTestPools(t, DefaultConfig())
	boom := errors.New("boom")

	fut, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error { return boom })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, fut.Wait(ctx), boom)
	assert.ErrorIs(t, fut.Err(), boom)
}

func TestFuturePanicCompletesWithInternalError(t *testing.T) {
	p := newTestPools(t, DefaultConfig())

	fut, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error { panic("bad unit") })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	werr := fut.Wait(ctx)
	require.Error(t, werr)
	assert.Equal(t, glserrors.InternalError, glserrors.CodeOf(werr))

	require.Eventually(t, func() bool { return p.Compile().Stats().Panics == 1 }, time.Second, 10*time.Millisecond)

	// the worker survives the panic
	fut2, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, fut2.Wait(ctx))
}

func TestQueueFullRejects(t *testing.T) {
	var rejected atomic.Int64
	cfg := DefaultConfig()
	cfg.ImportWorkers = 1
	cfg.QueueSize = 1
	cfg.OnReject = func(pool string) {
		if pool == ImportPool {
			rejected.Add(1)
		}
	}
	p := newTestPools(t, cfg)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.SubmitImport(context.Background(), func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started
	require.NoError(t, p.SubmitImport(context.Background(), func(ctx context.Context) {}))

	err := p.SubmitImport(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), rejected.Load())
	assert.Equal(t, int64(1), p.Import().Stats().Rejected)

	close(block)
}

func TestShutdownAllIdempotentAndRejects(t *testing.T) {
	p := New(DefaultConfig(), nil)

	require.NoError(t, p.ShutdownAll())
	require.NotPanics(t, func() { _ = p.ShutdownAll() })
	assert.True(t, p.IsShutdown())

	assert.ErrorIs(t, p.SubmitScheduling(context.Background(), func(ctx context.Context) {}), ErrShutdown)
	assert.ErrorIs(t, p.SubmitImport(context.Background(), func(ctx context.Context) {}), ErrShutdown)
	_, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrShutdown)
	assert.True(t, glserrors.HasCode(err, glserrors.PoolShutdown))

	_, err = p.AcquireCompilePermit(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	p := New(DefaultConfig(), nil)

	started := make(chan struct{})
	stopped := make(chan struct{})
	require.NoError(t, p.SubmitImport(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	}))
	<-started

	require.NoError(t, p.ShutdownAll())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("running task did not observe cancellation")
	}
}

func TestShutdownAbandonsQueuedFutures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompileWorkers = 1
	p := New(cfg, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	_, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)
	<-started

	queued, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	require.NoError(t, p.ShutdownAll())
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	werr := queued.Wait(ctx)
	// the queued task either ran before the workers stopped or was abandoned
	if werr != nil {
		assert.ErrorIs(t, werr, ErrShutdown)
	}
}

func TestCompilePermitsBoundConcurrency(t *testing.T) {
	var maxSeen, inUse atomic.Int64
	cfg := DefaultConfig()
	cfg.CompileWorkers = 4
	cfg.CompilePermits = 1
	cfg.OnPermitsChanged = func(n int64) {
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
	}
	p := newTestPools(t, cfg)

	var wg sync.WaitGroup
	var overlap atomic.Bool
	for i := 0; i < 8; i++ {
		wg.Add(1)
		_, err := p.SubmitCompile(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			release, err := p.AcquireCompilePermit(ctx)
			if err != nil {
				return err
			}
			defer release()
			if inUse.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			inUse.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "permits must serialize compilations")
	assert.Equal(t, int64(1), maxSeen.Load())
	assert.Equal(t, int64(0), p.PermitsInUse())
}

func TestPermitReleaseIsIdempotent(t *testing.T) {
	p := newTestPools(t, DefaultConfig())

	release, err := p.AcquireCompilePermit(context.Background())
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, int64(0), p.PermitsInUse())

	// a second acquire must not block
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release2, err := p.AcquireCompilePermit(ctx)
	require.NoError(t, err)
	release2()
}

func TestAcquirePermitHonoursContext(t *testing.T) {
	p := newTestPools(t, DefaultConfig())
	release, err := p.AcquireCompilePermit(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.AcquireCompilePermit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduleAfterAndCancel(t *testing.T) {
	p := newTestPools(t, DefaultConfig())

	var fired atomic.Int64
	p.ScheduleAfter(context.Background(), 10*time.Millisecond, func(ctx context.Context) { fired.Add(1) })
	cancel := p.ScheduleAfter(context.Background(), 50*time.Millisecond, func(ctx context.Context) { fired.Add(100) })
	cancel()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())
}

func TestScheduleEvery(t *testing.T) {
	p := newTestPools(t, DefaultConfig())

	var ticks atomic.Int64
	stop := p.ScheduleEvery(context.Background(), 5*time.Millisecond, func(ctx context.Context) { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()
	stop()

	n := ticks.Load()
	time.Sleep(40 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), n+1)
}

func TestDebouncerRunsLatestOnly(t *testing.T) {
	p := newTestPools(t, DefaultConfig())
	d := p.NewDebouncer(20 * time.Millisecond)

	var mu sync.Mutex
	var runs []int
	for i := 0; i < 5; i++ {
		i := i
		d.Trigger(context.Background(), "/ws/app", func(ctx context.Context) {
			mu.Lock()
			runs = append(runs, i)
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{4}, runs)
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	p := newTestPools(t, DefaultConfig())
	d := p.NewDebouncer(10 * time.Millisecond)

	var a, b atomic.Int64
	d.Trigger(context.Background(), "a", func(ctx context.Context) { a.Add(1) })
	d.Trigger(context.Background(), "b", func(ctx context.Context) { b.Add(1) })
	d.Cancel("b")

	require.Eventually(t, func() bool { return a.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), b.Load())
}

func TestDebouncerFlush(t *testing.T) {
	p := newTestPools(t, DefaultConfig())
	d := p.NewDebouncer(time.Hour)

	done := make(chan string, 1)
	d.Trigger(WithProject(context.Background(), "/ws/x"), "x", func(ctx context.Context) {
		done <- ProjectFromContext(ctx)
	})
	require.NoError(t, d.Flush("x"))
	require.NoError(t, d.Flush("missing"))

	select {
	case root := <-done:
		assert.Equal(t, "/ws/x", root)
	case <-time.After(time.Second):
		t.Fatal("flush did not run task")
	}
}
