package classpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.lsp.dev/protocol"

	glserrors "groovyls/internal/errors"
	"groovyls/internal/executor"
	"groovyls/internal/metrics"
	"groovyls/internal/notify"
	"groovyls/internal/scope"
)

// DefaultLanguageVersion is assumed when no importer can tell.
const DefaultLanguageVersion = "4.0.0"

// Options configure a Coordinator.
type Options struct {
	Importers               []ProjectImporter
	Cache                   Cache
	Notifier                *notify.Notifier
	CacheEnabled            bool
	BackfillSiblingProjects bool
	DefaultLanguageVersion  string
	// ImportTimeout bounds one importer call. Zero means no bound.
	ImportTimeout time.Duration
	// OnComplete runs on the import pool once a root reaches RESOLVED or FAILED.
	OnComplete func(ctx context.Context, root string, state scope.ResolutionState)
}

type attempt struct {
	id       string
	root     string
	epoch    uint64
	state    scope.ResolutionState
	reason   string
	started  time.Time
	future   *executor.Future
	complete func(error)
}

// deferredRequest is a resolution request for a newer epoch that arrived
// while an attempt from an earlier epoch still held root's gate.
type deferredRequest struct {
	epoch    uint64
	ctx      context.Context
	uri      string
	future   *executor.Future
	complete func(error)
}

// Coordinator drives deduplicated classpath resolution. Each root resolves at
// most once per registration epoch; FAILED stays until the root is registered
// again.
type Coordinator struct {
	manager *scope.Manager
	pools   *executor.Pools
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	attempts map[string]*attempt
	deferred map[string]*deferredRequest
	assigned map[string]ProjectImporter
}

// New creates a coordinator.
func New(manager *scope.Manager, pools *executor.Pools, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New(nil, logger, notify.Options{})
	}
	if opts.DefaultLanguageVersion == "" {
		opts.DefaultLanguageVersion = DefaultLanguageVersion
	}
	return &Coordinator{
		manager:  manager,
		pools:    pools,
		opts:     opts,
		logger:   logger,
		attempts: make(map[string]*attempt),
		deferred: make(map[string]*deferredRequest),
		assigned: make(map[string]ProjectImporter),
	}
}

// Importers returns the configured importers.
func (c *Coordinator) Importers() []ProjectImporter {
	return c.opts.Importers
}

// Discover asks every importer for projects below workspaceRoot, registers
// them and syncs the cache topology. The first importer to report a root owns it.
func (c *Coordinator) Discover(ctx context.Context, workspaceRoot string) ([]string, error) {
	owners := make(map[string]ProjectImporter)
	var roots []string
	var errs []error

	for _, imp := range c.opts.Importers {
		found, err := imp.DiscoverProjects(ctx, workspaceRoot)
		if err != nil {
			c.logger.WarnContext(ctx, "Project discovery failed", "importer", imp.Name(), "error", err.Error())
			errs = append(errs, err)
			continue
		}
		for _, r := range found {
			if _, ok := owners[r]; ok {
				continue
			}
			owners[r] = imp
			roots = append(roots, r)
		}
	}
	sort.Strings(roots)

	c.mu.Lock()
	c.assigned = owners
	c.mu.Unlock()
	c.manager.RegisterDiscoveredProjects(roots)

	if c.cacheEnabled() {
		invalidated, err := c.opts.Cache.SyncTopology(ctx, workspaceRoot, roots)
		if err != nil {
			c.logger.WarnContext(ctx, "Classpath cache topology sync failed", "error", err.Error())
		} else if invalidated {
			c.logger.InfoContext(ctx, "Project topology changed, classpath cache invalidated", "projects", len(roots))
		}
	}

	if len(roots) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	c.logger.InfoContext(ctx, "Discovered projects", "count", len(roots))
	return roots, nil
}

func (c *Coordinator) cacheEnabled() bool {
	return c.opts.CacheEnabled && c.opts.Cache != nil
}

func (c *Coordinator) importerFor(root string) ProjectImporter {
	c.mu.Lock()
	imp, ok := c.assigned[root]
	c.mu.Unlock()
	if ok {
		return imp
	}
	for _, imp := range c.opts.Importers {
		if imp.ClaimsProject(root) {
			return imp
		}
	}
	return nil
}

// ImporterFor returns the importer owning root, or nil.
func (c *Coordinator) ImporterFor(root string) ProjectImporter {
	return c.importerFor(root)
}

// State returns root's resolution state in its current registration epoch.
func (c *Coordinator) State(root string) scope.ResolutionState {
	epoch := c.manager.Epoch(root)
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attempts[root]
	if !ok || a.epoch != epoch {
		return scope.ResolutionNotStarted
	}
	return a.state
}

// FailureReason returns why root's resolution failed in the current epoch.
func (c *Coordinator) FailureReason(root string) string {
	epoch := c.manager.Epoch(root)
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.attempts[root]; ok && a.epoch == epoch && a.state == scope.ResolutionFailed {
		return a.reason
	}
	return ""
}

// Future returns the deferred result of root's current attempt, or nil.
func (c *Coordinator) Future(root string) *executor.Future {
	epoch := c.manager.Epoch(root)
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.attempts[root]; ok && a.epoch == epoch {
		return a.future
	}
	return nil
}

// claim passes the deduplication gate for root. It returns the new attempt,
// or the future of an attempt already in flight, or neither when root is done.
func (c *Coordinator) claim(root string) (*attempt, *executor.Future) {
	epoch := c.manager.Epoch(root)
	c.mu.Lock()
	if a, ok := c.attempts[root]; ok && a.epoch == epoch {
		var fut *executor.Future
		if a.state == scope.ResolutionInFlight {
			fut = a.future
		}
		c.mu.Unlock()
		return nil, fut
	}
	c.mu.Unlock()

	if !c.manager.MarkResolutionStarted(root) {
		return nil, c.Future(root)
	}

	epoch = c.manager.Epoch(root)
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.attempts[root]; ok && a.epoch == epoch && a.state != scope.ResolutionNotStarted {
		// finished between the check above and the gate
		c.manager.MarkResolutionComplete(root)
		return nil, nil
	}
	a := &attempt{
		id:      uuid.NewString(),
		root:    root,
		epoch:   epoch,
		state:   scope.ResolutionInFlight,
		started: time.Now(),
	}
	a.future, a.complete = executor.NewPromise()
	c.attempts[root] = a
	return a, nil
}

// RequestResolution starts resolving the scope's classpath on the import pool
// and returns immediately. It is a no-op returning nil for a nil scope, the
// default scope or a scope whose classpath is already resolved. When an
// attempt is already in flight its future is returned and nothing new starts.
// When the gate is still held by an attempt from an earlier registration
// epoch, the request is parked and issued again once that attempt finishes.
func (c *Coordinator) RequestResolution(ctx context.Context, s *scope.ProjectScope, triggeringURI string) *executor.Future {
	if s == nil || s.IsDefault() || s.ClasspathResolved() {
		return nil
	}
	root := s.Root()
	if c.manager.FindProjectScopeByRoot(root) != s {
		return nil
	}

	a, inflight := c.claim(root)
	if a == nil {
		if inflight == nil && c.heldByEarlierEpoch(root) {
			return c.deferUntilReleased(ctx, root, triggeringURI)
		}
		return inflight
	}

	taskCtx := executor.WithProject(ctx, root)
	fut, err := c.pools.Import().SubmitFuture(taskCtx, func(ctx context.Context) error {
		return c.resolve(ctx, a, triggeringURI)
	})
	if err != nil {
		c.finishFailed(taskCtx, a, err)
		return a.future
	}
	c.watchAbandon(taskCtx, fut, a)
	return a.future
}

func (c *Coordinator) heldByEarlierEpoch(root string) bool {
	if !c.manager.IsResolutionInFlight(root) {
		return false
	}
	epoch := c.manager.Epoch(root)
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attempts[root]
	return !ok || a.epoch != epoch
}

func (c *Coordinator) deferUntilReleased(ctx context.Context, root, triggeringURI string) *executor.Future {
	epoch := c.manager.Epoch(root)
	c.mu.Lock()
	d, ok := c.deferred[root]
	if !ok || d.epoch != epoch {
		if ok {
			d.complete(nil)
		}
		d = &deferredRequest{epoch: epoch, ctx: context.WithoutCancel(ctx), uri: triggeringURI}
		d.future, d.complete = executor.NewPromise()
		c.deferred[root] = d
	}
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Resolution deferred behind an earlier epoch", "project", root, "epoch", epoch)
	// The earlier attempt may have released the gate before d was parked.
	if !c.manager.IsResolutionInFlight(root) {
		c.runDeferred(root)
	}
	return d.future
}

// runDeferred issues root's parked request, if any, and completes its future
// with the outcome of the resolution it started or joined.
func (c *Coordinator) runDeferred(root string) {
	c.mu.Lock()
	d, ok := c.deferred[root]
	delete(c.deferred, root)
	c.mu.Unlock()
	if !ok {
		return
	}
	if d.epoch != c.manager.Epoch(root) {
		d.complete(nil)
		return
	}
	fut := c.RequestResolution(d.ctx, c.manager.FindProjectScopeByRoot(root), d.uri)
	if fut == nil {
		fut = c.Future(root)
	}
	if fut == nil {
		d.complete(nil)
		return
	}
	go func() {
		<-fut.Done()
		d.complete(fut.Err())
	}()
}

// watchAbandon fails attempts whose task was dropped at shutdown.
func (c *Coordinator) watchAbandon(ctx context.Context, fut *executor.Future, attempts ...*attempt) {
	go func() {
		<-fut.Done()
		if errors.Is(fut.Err(), executor.ErrShutdown) {
			for _, a := range attempts {
				c.finishFailed(ctx, a, fut.Err())
			}
		}
	}()
}

func (c *Coordinator) importContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.ImportTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.ImportTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Coordinator) resolve(ctx context.Context, a *attempt, triggeringURI string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "Classpath resolution panicked",
				"attempt", a.id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = glserrors.NewGlsError(glserrors.InternalError, fmt.Sprintf("resolution panicked: %v", r), nil)
			c.finishFailed(ctx, a, err)
		}
	}()

	c.logger.InfoContext(ctx, "Resolving classpath", "attempt", a.id, "uri", triggeringURI)
	c.opts.Notifier.StatusUpdate(ctx, a.root, notify.StateResolving, "")

	imp := c.importerFor(a.root)
	if imp == nil {
		metrics.Resolution(metrics.OutcomeNoImporter)
		err = glserrors.NewGlsError(glserrors.ImporterUnavailable, "no importer claims "+a.root, nil)
		c.finishFailed(ctx, a, err)
		return err
	}

	if cached, ok := c.fromCache(ctx, imp, a.root); ok {
		metrics.Resolution(metrics.OutcomeCached)
		c.finishResolved(ctx, a, cached.Entries, cached.LanguageVersion)
		return nil
	}

	callCtx, cancel := c.importContext(ctx)
	defer cancel()
	metrics.ImporterInvoked(imp.Name())
	entries, err := imp.ResolveClasspath(callCtx, a.root)
	if err != nil {
		metrics.Resolution(metrics.OutcomeFailed)
		err = glserrors.NewGlsError(glserrors.ResolutionFailed, imp.Name()+" could not resolve the classpath", err)
		c.finishFailed(ctx, a, err)
		return err
	}

	if err := c.accept(ctx, imp, a, entries); err != nil {
		return err
	}
	c.scheduleBackfill(ctx, imp, a.root)
	return nil
}

// accept applies the importer's veto and version hint, then records the result.
func (c *Coordinator) accept(ctx context.Context, imp ProjectImporter, a *attempt, entries []string) error {
	if !imp.ShouldMarkClasspathResolved(a.root, entries) {
		metrics.Resolution(metrics.OutcomeVetoed)
		err := glserrors.NewGlsError(glserrors.ClasspathIncomplete,
			fmt.Sprintf("%s classpath of %d entries has no dependency jars; run a build first", imp.Name(), len(entries)), nil)
		c.finishFailed(ctx, a, err)
		return err
	}

	version := imp.DetectProjectGroovyVersion(a.root, entries)
	if version == "" {
		version = c.opts.DefaultLanguageVersion
	}
	metrics.Resolution(metrics.OutcomeResolved)
	c.store(ctx, imp, a.root, entries, version)
	c.finishResolved(ctx, a, entries, version)
	return nil
}

func (c *Coordinator) fromCache(ctx context.Context, imp ProjectImporter, root string) (CachedProject, bool) {
	if !c.cacheEnabled() {
		return CachedProject{}, false
	}
	cached, ok, err := c.opts.Cache.Get(ctx, c.manager.WorkspaceRoot(), root)
	if err != nil {
		c.logger.WarnContext(ctx, "Classpath cache read failed", "error", err.Error())
		return CachedProject{}, false
	}
	if !ok {
		return CachedProject{}, false
	}
	if cached.BuildFileHash != HashBuildFiles(root, imp.IsProjectFile) {
		c.logger.DebugContext(ctx, "Cached classpath is stale")
		return CachedProject{}, false
	}
	if cached.LanguageVersion == "" {
		cached.LanguageVersion = c.opts.DefaultLanguageVersion
	}
	return cached, true
}

func (c *Coordinator) store(ctx context.Context, imp ProjectImporter, root string, entries []string, version string) {
	if !c.cacheEnabled() {
		return
	}
	err := c.opts.Cache.Put(ctx, c.manager.WorkspaceRoot(), root, CachedProject{
		Entries:         entries,
		LanguageVersion: version,
		BuildFileHash:   HashBuildFiles(root, imp.IsProjectFile),
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Classpath cache write failed", "error", err.Error())
	}
}

// transition moves a from IN_FLIGHT to a terminal state. It reports false if
// a was already finished.
func (c *Coordinator) transition(a *attempt, to scope.ResolutionState, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !scope.CanTransitionResolution(a.state, to) {
		return false
	}
	a.state = to
	a.reason = reason
	return true
}

func (c *Coordinator) current(a *attempt) bool {
	return c.manager.Epoch(a.root) == a.epoch
}

// finishResolved records RESOLVED before the scope sees its classpath, so a
// scope is never resolved while its attempt is in flight.
func (c *Coordinator) finishResolved(ctx context.Context, a *attempt, entries []string, version string) bool {
	if !c.transition(a, scope.ResolutionResolved, "") {
		return false
	}
	if c.current(a) {
		if s := c.manager.UpdateProjectClasspath(a.root, entries); s != nil {
			s.SetLanguageVersion(version)
		}
	}
	c.manager.MarkResolutionComplete(a.root)
	a.complete(nil)

	c.logger.InfoContext(ctx, "Classpath resolved",
		"attempt", a.id,
		"entries", len(entries),
		"version", version,
		"duration", time.Since(a.started).String(),
	)
	c.opts.Notifier.StatusUpdate(ctx, a.root, notify.StateResolved, fmt.Sprintf("%d classpath entries", len(entries)))
	c.onComplete(ctx, a.root, scope.ResolutionResolved)
	c.runDeferred(a.root)
	return true
}

func (c *Coordinator) finishFailed(ctx context.Context, a *attempt, cause error) {
	reason := "resolution failed"
	if cause != nil {
		reason = cause.Error()
	}
	if !c.transition(a, scope.ResolutionFailed, reason) {
		return
	}
	if c.current(a) {
		c.manager.MarkClasspathDegraded(a.root)
	}
	c.manager.MarkResolutionComplete(a.root)
	a.complete(cause)

	c.logger.WarnContext(ctx, "Classpath resolution failed",
		"attempt", a.id,
		"error", reason,
		"duration", time.Since(a.started).String(),
	)
	c.opts.Notifier.StatusUpdate(ctx, a.root, notify.StateResolutionFailed, reason)
	c.opts.Notifier.ShowMessage(ctx, protocol.MessageTypeWarning,
		fmt.Sprintf("Classpath resolution failed for %s: %s. Only syntax diagnostics are available.", a.root, reason))
	c.onComplete(ctx, a.root, scope.ResolutionFailed)
	c.runDeferred(a.root)
}

func (c *Coordinator) onComplete(ctx context.Context, root string, state scope.ResolutionState) {
	if c.opts.OnComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "Resolution callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	c.opts.OnComplete(ctx, root, state)
}

// ImportProject resets root to a new epoch and imports it synchronously,
// letting the importer build what it needs.
func (c *Coordinator) ImportProject(ctx context.Context, root string) error {
	imp := c.importerFor(root)
	if imp == nil {
		return glserrors.NewGlsError(glserrors.ImporterUnavailable, "no importer claims "+root, nil)
	}
	if c.manager.ResetProject(root) == nil {
		return glserrors.NewGlsError(glserrors.ScopeNotFound, "project is not registered: "+root, nil)
	}
	if c.cacheEnabled() {
		_ = c.opts.Cache.InvalidateProject(ctx, c.manager.WorkspaceRoot(), root)
	}
	a, _ := c.claim(root)
	if a == nil {
		return glserrors.NewGlsError(glserrors.ResolutionFailed, "resolution already in flight for "+root, nil)
	}

	ctx = executor.WithProject(ctx, root)
	callCtx, cancel := c.importContext(ctx)
	defer cancel()
	metrics.ImporterInvoked(imp.Name())
	entries, err := imp.ImportProject(callCtx, root)
	if err != nil {
		metrics.Resolution(metrics.OutcomeFailed)
		err = glserrors.NewGlsError(glserrors.ResolutionFailed, imp.Name()+" import failed", err)
		c.finishFailed(ctx, a, err)
		return err
	}
	return c.accept(ctx, imp, a, entries)
}

// Recompile rebuilds root's outputs and starts a new epoch so the next touch
// resolves again.
func (c *Coordinator) Recompile(ctx context.Context, root string) error {
	imp := c.importerFor(root)
	if imp == nil {
		return glserrors.NewGlsError(glserrors.ImporterUnavailable, "no importer claims "+root, nil)
	}
	if err := imp.Recompile(executor.WithProject(ctx, root), root); err != nil {
		return err
	}
	c.Invalidate(ctx, root)
	return nil
}

// Invalidate drops root's cached classpath and starts a new registration
// epoch for it. It returns the fresh scope, or nil for unknown roots.
func (c *Coordinator) Invalidate(ctx context.Context, root string) *scope.ProjectScope {
	if c.cacheEnabled() {
		if err := c.opts.Cache.InvalidateProject(ctx, c.manager.WorkspaceRoot(), root); err != nil {
			c.logger.WarnContext(ctx, "Classpath cache invalidation failed", "project", root, "error", err.Error())
		}
	}
	return c.manager.ResetProject(root)
}

// IsProjectFile reports whether any importer owns path as a build file.
func (c *Coordinator) IsProjectFile(path string) bool {
	for _, imp := range c.opts.Importers {
		if imp.IsProjectFile(path) {
			return true
		}
	}
	return false
}

// States returns the resolution state of every registered root.
func (c *Coordinator) States() map[string]scope.ResolutionState {
	out := make(map[string]scope.ResolutionState)
	for _, r := range c.manager.Roots() {
		out[r] = c.State(r)
	}
	return out
}
