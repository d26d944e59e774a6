// Package notify delivers client-facing notifications. Delivery is
// fire-and-forget: callers never wait for the sink, and sink errors and
// panics are logged and swallowed.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.lsp.dev/protocol"
	"golang.org/x/time/rate"
)

// Status states.
const (
	StateResolving        = "resolving"
	StateResolved         = "resolved"
	StateResolutionFailed = "resolution-failed"
	StateCompiling        = "compiling"
	StateCompiled         = "compiled"
	StateDegraded         = "degraded"
)

// Status is a progress update about one project.
type Status struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
	Project string `json:"project,omitempty"`
}

// MemoryStats is a periodic memory report.
type MemoryStats struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapSysBytes   uint64 `json:"heapSysBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
	Scopes         int    `json:"scopes"`
	CompiledScopes int    `json:"compiledScopes"`
}

// Sink is the client side of the connection.
type Sink interface {
	PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error
	ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error
	StatusUpdate(ctx context.Context, status Status) error
	MemoryUsage(ctx context.Context, stats MemoryStats) error
}

// Options control throttling and queueing.
type Options struct {
	// StatusInterval is the minimum spacing of status updates after the burst.
	StatusInterval time.Duration
	StatusBurst    int
	// MemoryInterval is the minimum spacing of memory reports.
	MemoryInterval time.Duration
	// QueueSize bounds notifications waiting for the sink. Notifications
	// arriving while the queue is full are dropped.
	QueueSize int
}

const defaultQueueSize = 1024

// DefaultOptions returns the throttling used by the server.
func DefaultOptions() Options {
	return Options{
		StatusInterval: 50 * time.Millisecond,
		StatusBurst:    20,
		MemoryInterval: time.Second,
		QueueSize:      defaultQueueSize,
	}
}

type delivery struct {
	ctx    context.Context
	method string
	send   func(ctx context.Context) error
	// done is closed once everything queued before it was handed to the sink.
	done chan struct{}
}

// Notifier wraps a Sink so that nothing it does reaches the caller. Calls
// enqueue and return; one goroutine hands notifications to the sink in order.
type Notifier struct {
	sink   Sink
	logger *slog.Logger
	status *rate.Limiter
	memory *rate.Limiter

	queue   chan delivery
	stop    chan struct{}
	started sync.Once
	stopped sync.Once
	dropped atomic.Int64
}

// New wraps sink. A nil sink discards everything.
func New(sink Sink, logger *slog.Logger, opts Options) *Notifier {
	if sink == nil {
		sink = Discard{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	n := &Notifier{
		sink:   sink,
		logger: logger,
		queue:  make(chan delivery, size),
		stop:   make(chan struct{}),
	}
	if opts.StatusInterval > 0 {
		burst := opts.StatusBurst
		if burst < 1 {
			burst = 1
		}
		n.status = rate.NewLimiter(rate.Every(opts.StatusInterval), burst)
	}
	if opts.MemoryInterval > 0 {
		n.memory = rate.NewLimiter(rate.Every(opts.MemoryInterval), 1)
	}
	return n
}

func (n *Notifier) run() {
	for {
		select {
		case <-n.stop:
			return
		case d := <-n.queue:
			if d.send != nil {
				n.call(d)
			}
			if d.done != nil {
				close(d.done)
			}
		}
	}
}

func (n *Notifier) call(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.ErrorContext(d.ctx, "Notification sink panicked",
				"method", d.method,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := d.send(d.ctx); err != nil {
		n.logger.WarnContext(d.ctx, "Notification delivery failed", "method", d.method, "error", err.Error())
	}
}

// enqueue never blocks. The caller's context values travel with the
// notification but its cancellation does not.
func (n *Notifier) enqueue(ctx context.Context, method string, send func(ctx context.Context) error) {
	n.started.Do(func() { go n.run() })
	select {
	case <-n.stop:
		return
	default:
	}
	select {
	case n.queue <- delivery{ctx: context.WithoutCancel(ctx), method: method, send: send}:
	default:
		if dropped := n.dropped.Add(1); dropped == 1 || dropped%100 == 0 {
			n.logger.WarnContext(ctx, "Notification queue full, dropping", "method", method, "dropped", dropped)
		}
	}
}

// Flush waits until every notification queued before the call was handed to
// the sink, or ctx is done.
func (n *Notifier) Flush(ctx context.Context) error {
	n.started.Do(func() { go n.run() })
	done := make(chan struct{})
	select {
	case n.queue <- delivery{done: done}:
	case <-n.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-n.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery. Notifications still queued are dropped and later
// calls do nothing.
func (n *Notifier) Close() {
	n.stopped.Do(func() { close(n.stop) })
}

// Dropped returns how many notifications were dropped on a full queue.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// PublishDiagnostics sends the full diagnostic set of one document.
func (n *Notifier) PublishDiagnostics(ctx context.Context, docURI string, diags []protocol.Diagnostic) {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	params := &protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentURI(docURI),
		Diagnostics: diags,
	}
	n.enqueue(ctx, "textDocument/publishDiagnostics", func(ctx context.Context) error {
		return n.sink.PublishDiagnostics(ctx, params)
	})
}

// ShowMessage sends a user-visible message.
func (n *Notifier) ShowMessage(ctx context.Context, typ protocol.MessageType, message string) {
	params := &protocol.ShowMessageParams{Type: typ, Message: message}
	n.enqueue(ctx, "window/showMessage", func(ctx context.Context) error {
		return n.sink.ShowMessage(ctx, params)
	})
}

// StatusUpdate sends a progress update. Updates over the rate are dropped.
func (n *Notifier) StatusUpdate(ctx context.Context, project, state, message string) {
	if n.status != nil && !n.status.Allow() {
		return
	}
	st := Status{State: state, Message: message, Project: project}
	n.enqueue(ctx, "groovy/statusUpdate", func(ctx context.Context) error {
		return n.sink.StatusUpdate(ctx, st)
	})
}

// MemoryUsage sends a memory report. Reports over the rate are dropped.
func (n *Notifier) MemoryUsage(ctx context.Context, stats MemoryStats) {
	if n.memory != nil && !n.memory.Allow() {
		return
	}
	n.enqueue(ctx, "groovy/memoryUsage", func(ctx context.Context) error {
		return n.sink.MemoryUsage(ctx, stats)
	})
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) PublishDiagnostics(context.Context, *protocol.PublishDiagnosticsParams) error {
	return nil
}

func (Discard) ShowMessage(context.Context, *protocol.ShowMessageParams) error { return nil }

func (Discard) StatusUpdate(context.Context, Status) error { return nil }

func (Discard) MemoryUsage(context.Context, MemoryStats) error { return nil }
