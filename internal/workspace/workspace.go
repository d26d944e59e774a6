// Package workspace routes editor and file system events to project scopes,
// classpath resolution and compilation.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"groovyls/internal/classpath"
	"groovyls/internal/compilation"
	"groovyls/internal/compiler"
	"groovyls/internal/config"
	"groovyls/internal/executor"
	"groovyls/internal/files"
	"groovyls/internal/importers"
	"groovyls/internal/metrics"
	"groovyls/internal/notify"
	"groovyls/internal/paths"
	"groovyls/internal/scope"
)

// notifyFlushTimeout bounds how long Shutdown waits for the client to take
// queued notifications.
const notifyFlushTimeout = 2 * time.Second

// Deps are the pluggable parts of a workspace.
type Deps struct {
	Importers []classpath.ProjectImporter
	// Cache persists resolved classpaths. Nil disables persistence.
	Cache   classpath.Cache
	Backend compiler.Backend
	Sink    notify.Sink
	Notify  notify.Options
}

// Workspace wires the scope manager, the resolution coordinator and the
// compilation service together behind document events.
type Workspace struct {
	cfg    *config.Config
	logger *slog.Logger

	manager     *scope.Manager
	pools       *executor.Pools
	tracker     *files.Tracker
	notifier    *notify.Notifier
	coordinator *classpath.Coordinator
	compiler    *compilation.Service
	debouncer   *executor.Debouncer

	mu      sync.Mutex
	root    string
	stops   []func()
	watcher *files.Watcher
}

// New builds a workspace from cfg. Nothing runs until Open.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Workspace {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pools := executor.New(executor.Config{
		SchedulingWorkers: cfg.Pools.SchedulingWorkers,
		ImportWorkers:     cfg.Pools.ImportWorkers,
		CompileWorkers:    cfg.Pools.CompileWorkers,
		CompilePermits:    cfg.Pools.CompilePermits,
		QueueSize:         cfg.Pools.QueueSize,
		OnReject:          metrics.PoolRejected,
		OnPermitsChanged:  metrics.PermitsInUse,
	}, logger)

	w := &Workspace{
		cfg:      cfg,
		logger:   logger,
		manager:  scope.NewManager(logger),
		pools:    pools,
		tracker:  files.NewTracker(),
		notifier: notify.New(deps.Sink, logger, deps.Notify),
	}
	w.debouncer = pools.NewDebouncer(time.Duration(cfg.Compile.DebounceMs) * time.Millisecond)

	w.coordinator = classpath.New(w.manager, pools, classpath.Options{
		Importers:               deps.Importers,
		Cache:                   deps.Cache,
		Notifier:                w.notifier,
		CacheEnabled:            cfg.Classpath.CacheEnabled && deps.Cache != nil,
		BackfillSiblingProjects: cfg.Classpath.BackfillSiblingProjects,
		DefaultLanguageVersion:  cfg.Compile.DefaultGroovyVersion,
		ImportTimeout:           time.Duration(cfg.Classpath.ImportTimeoutSeconds) * time.Second,
		OnComplete:              w.onResolution,
	}, logger)

	w.compiler = compilation.New(w.manager, pools, compilation.Options{
		Backend:                deps.Backend,
		Files:                  w.tracker,
		Notifier:               w.notifier,
		FullRecompileThreshold: cfg.Compile.FullRecompileThreshold,
		SkipDir:                importers.SkipDir,
	}, logger)
	return w
}

// Manager returns the scope registry.
func (w *Workspace) Manager() *scope.Manager { return w.manager }

// Coordinator returns the classpath resolution coordinator.
func (w *Workspace) Coordinator() *classpath.Coordinator { return w.coordinator }

// Compiler returns the compilation service.
func (w *Workspace) Compiler() *compilation.Service { return w.compiler }

// Files returns the open-document tracker.
func (w *Workspace) Files() *files.Tracker { return w.tracker }

// Pools returns the executor pools.
func (w *Workspace) Pools() *executor.Pools { return w.pools }

// Root returns the workspace root set by Open.
func (w *Workspace) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Open sets the workspace root, discovers its projects and starts periodic
// memory reporting and scope eviction. The background tasks run until ctx is
// done or Shutdown is called.
func (w *Workspace) Open(ctx context.Context, root string) ([]string, error) {
	canonical, err := paths.CanonicalizeRoot(root)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace root %q: %w", root, err)
	}

	w.mu.Lock()
	w.root = canonical
	w.mu.Unlock()

	w.manager.SetWorkspaceRoot(canonical)
	projects, err := w.coordinator.Discover(ctx, canonical)
	if err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "Workspace opened", "root", canonical, "projects", len(projects))

	if secs := w.cfg.Status.MemoryReportSeconds; secs > 0 {
		w.addStop(w.pools.ScheduleEvery(ctx, time.Duration(secs)*time.Second, w.ReportMemory))
	}
	if secs := w.cfg.Scopes.EvictionTTLSeconds; secs > 0 {
		ttl := time.Duration(secs) * time.Second
		w.addStop(w.pools.ScheduleEvery(ctx, ttl/2, func(ctx context.Context) {
			w.EvictIdle(ctx, ttl)
		}))
	}
	return projects, nil
}

func (w *Workspace) addStop(stop func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops = append(w.stops, stop)
}

// DidOpen records an opened document, starts resolution of its project and
// compiles it as the current context.
func (w *Workspace) DidOpen(ctx context.Context, uri, text string, version int32) {
	w.tracker.DidOpen(uri, text, version)
	sc := w.touch(ctx, uri)
	if sc == nil {
		return
	}
	w.debouncer.Cancel(sc.Root())
	w.scheduleCompile(ctx, uri)
}

// DidChange records new document text and schedules a debounced compile of
// its project.
func (w *Workspace) DidChange(ctx context.Context, uri, text string, version int32) {
	w.tracker.DidChange(uri, text, version)
	sc := w.touch(ctx, uri)
	if sc == nil {
		return
	}
	w.debouncer.Trigger(executor.WithProject(ctx, sc.Root()), sc.Root(), func(ctx context.Context) {
		w.scheduleCompile(ctx, uri)
	})
}

// DidSave flushes a pending debounced compile. Saving a build file starts a
// new resolution of its project.
func (w *Workspace) DidSave(ctx context.Context, uri string) {
	if p, err := paths.URIToPath(uri); err == nil && w.coordinator.IsProjectFile(p) {
		w.buildFileChanged(ctx, p)
		return
	}
	sc := w.manager.FindProjectScope(uri)
	if sc == nil {
		return
	}
	if err := w.debouncer.Flush(sc.Root()); err != nil {
		w.logger.DebugContext(ctx, "Could not flush compile", "uri", uri, "error", err.Error())
	}
}

// DidClose forgets the document. Its on-disk contents take over at the next
// compile of its project.
func (w *Workspace) DidClose(_ context.Context, uri string) {
	w.tracker.DidClose(uri)
}

// touch routes uri to its scope and requests resolution of it.
func (w *Workspace) touch(ctx context.Context, uri string) *scope.ProjectScope {
	sc := w.manager.FindProjectScope(uri)
	if sc == nil {
		w.logger.DebugContext(ctx, "Document is outside every known project", "uri", uri)
		return nil
	}
	sc.Touch()
	w.coordinator.RequestResolution(ctx, sc, uri)
	return sc
}

func (w *Workspace) scheduleCompile(ctx context.Context, uri string) {
	if _, err := w.compiler.ScheduleCompileForContext(ctx, uri); err != nil {
		w.logger.DebugContext(ctx, "Compile not scheduled", "uri", uri, "error", err.Error())
	}
}

// onResolution compiles a freshly resolved project when the editor has one
// of its documents open.
func (w *Workspace) onResolution(ctx context.Context, root string, state scope.ResolutionState) {
	sc := w.manager.FindProjectScopeByRoot(root)
	if sc == nil {
		return
	}
	target := sc.PreviousContext()
	if open := w.openIn(sc); target == "" && len(open) > 0 {
		target = open[0]
	}
	if target == "" {
		w.logger.DebugContext(ctx, "No open documents, compile deferred", "project", root, "state", state.String())
		return
	}
	w.scheduleCompile(ctx, target)
}

// openIn returns the open documents routed to sc in URI order.
func (w *Workspace) openIn(sc *scope.ProjectScope) []string {
	var out []string
	for _, u := range w.tracker.OpenURIs() {
		if w.manager.FindProjectScope(u) == sc {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Watch starts the file system watcher on the workspace root. Source file
// changes mark documents changed; build file changes start a new resolution
// of their project.
func (w *Workspace) Watch(ctx context.Context) error {
	root := w.Root()
	if root == "" {
		return fmt.Errorf("workspace is not open")
	}
	watcher := files.NewWatcher(root, files.WatcherConfig{
		SkipDir: importers.SkipDir,
		Relevant: func(p string) bool {
			return files.IsSourceFile(p) || w.coordinator.IsProjectFile(p)
		},
	}, w.logger, func(events []files.Event) {
		w.HandleFileEvents(ctx, events)
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()
	return nil
}

// HandleFileEvents applies a batch of file system changes.
func (w *Workspace) HandleFileEvents(ctx context.Context, events []files.Event) {
	changed := make(map[*scope.ProjectScope]string)
	rediscover := false
	for _, ev := range events {
		if w.coordinator.IsProjectFile(ev.Path) {
			if ev.Type == files.EventModify {
				w.buildFileChanged(ctx, ev.Path)
			} else {
				rediscover = true
			}
			continue
		}
		uri := paths.FileURI(ev.Path)
		if w.tracker.IsOpen(uri) {
			continue
		}
		w.tracker.MarkChanged(uri)
		if sc := w.manager.FindProjectScope(uri); sc != nil {
			changed[sc] = uri
		}
	}

	if rediscover {
		w.rediscover(ctx)
		return
	}
	for sc, uri := range changed {
		// scopes nobody looked at yet compile lazily
		if sc.Compiled() {
			w.scheduleCompile(ctx, uri)
		}
	}
}

// rediscover registers the project set again. Every scope starts a new epoch,
// so the ones with open documents resolve again right away.
func (w *Workspace) rediscover(ctx context.Context) {
	root := w.Root()
	if root == "" {
		return
	}
	if _, err := w.coordinator.Discover(ctx, root); err != nil {
		w.logger.WarnContext(ctx, "Project rediscovery failed", "error", err.Error())
	}
	for _, sc := range w.manager.Scopes() {
		if open := w.openIn(sc); len(open) > 0 {
			w.coordinator.RequestResolution(ctx, sc, open[0])
		}
	}
}

// buildFileChanged drops the resolution of the project owning path and
// resolves it again when one of its documents is open.
func (w *Workspace) buildFileChanged(ctx context.Context, path string) {
	sc := w.manager.FindProjectScope(paths.FileURI(path))
	if sc == nil || sc.IsDefault() {
		return
	}
	w.logger.InfoContext(ctx, "Build file changed", "project", sc.Root(), "file", path)
	fresh := w.coordinator.Invalidate(ctx, sc.Root())
	if fresh == nil {
		return
	}
	if open := w.openIn(fresh); len(open) > 0 {
		w.coordinator.RequestResolution(ctx, fresh, open[0])
	}
}

// ResolveAll requests resolution of every registered project and waits for
// the attempts to finish. Failed attempts are not an error here; they leave
// their scope degraded.
func (w *Workspace) ResolveAll(ctx context.Context) error {
	var futures []*executor.Future
	for _, sc := range w.manager.Scopes() {
		if f := w.coordinator.RequestResolution(ctx, sc, ""); f != nil {
			futures = append(futures, f)
		}
	}
	for _, f := range futures {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CompileAll compiles every project with a usable classpath.
func (w *Workspace) CompileAll(ctx context.Context) (int, error) {
	return w.compiler.CompileAll(ctx)
}

// ReportMemory sends one memory report to the client.
func (w *Workspace) ReportMemory(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	scopes := w.manager.Scopes()
	compiled := 0
	for _, sc := range scopes {
		if sc.Compiled() {
			compiled++
		}
	}
	w.notifier.MemoryUsage(ctx, notify.MemoryStats{
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		NumGC:          ms.NumGC,
		Goroutines:     runtime.NumGoroutine(),
		Scopes:         len(scopes),
		CompiledScopes: compiled,
	})
}

// EvictIdle drops compiled state of projects idle for longer than ttl that
// have no open documents.
func (w *Workspace) EvictIdle(ctx context.Context, ttl time.Duration) int {
	n := w.manager.EvictIdle(ttl, func(sc *scope.ProjectScope) bool {
		return len(w.openIn(sc)) > 0
	})
	if n > 0 {
		w.logger.InfoContext(ctx, "Evicted idle projects", "count", n)
	}
	return n
}

// ProjectStatus is the state of one project for status output.
type ProjectStatus struct {
	scope.Snapshot `yaml:",inline"`

	Resolution      string `json:"resolution" yaml:"resolution"`
	ResolutionError string `json:"resolutionError,omitempty" yaml:"resolutionError,omitempty"`
	Importer        string `json:"importer,omitempty" yaml:"importer,omitempty"`
}

// Status reports every registered project.
func (w *Workspace) Status() []ProjectStatus {
	snaps := w.manager.Snapshots()
	out := make([]ProjectStatus, 0, len(snaps))
	for _, s := range snaps {
		ps := ProjectStatus{
			Snapshot:        s,
			Resolution:      w.coordinator.State(s.Root).String(),
			ResolutionError: w.coordinator.FailureReason(s.Root),
		}
		if imp := w.coordinator.ImporterFor(s.Root); imp != nil {
			ps.Importer = imp.Name()
		}
		out = append(out, ps)
	}
	return out
}

// Shutdown stops background work and the pools. Queued compiles and
// resolutions are abandoned.
func (w *Workspace) Shutdown() error {
	w.mu.Lock()
	stops := w.stops
	w.stops = nil
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			w.logger.Warn("Watcher stop failed", "error", err.Error())
		}
	}
	err := w.pools.ShutdownAll()

	ctx, cancel := context.WithTimeout(context.Background(), notifyFlushTimeout)
	defer cancel()
	if ferr := w.notifier.Flush(ctx); ferr != nil {
		w.logger.Warn("Pending notifications dropped", "error", ferr.Error())
	}
	w.notifier.Close()
	return err
}

// FlushNotifications waits until every queued client notification was handed
// to the sink.
func (w *Workspace) FlushNotifications(ctx context.Context) error {
	return w.notifier.Flush(ctx)
}
