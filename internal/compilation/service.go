// Package compilation decides when and what to compile for each project
// scope, runs the compiler backend under a compile permit and publishes the
// resulting diagnostics.
package compilation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.lsp.dev/protocol"

	"groovyls/internal/compiler"
	"groovyls/internal/executor"
	"groovyls/internal/metrics"
	"groovyls/internal/notify"
	"groovyls/internal/paths"
	"groovyls/internal/scope"
)

// DefaultFullRecompileThreshold is the number of files an incremental
// compile may cover before a full compile is used instead.
const DefaultFullRecompileThreshold = 25

// Contents is the document view the service compiles from.
type Contents interface {
	Contents(uri string) (string, bool)
	Read(uri string) (string, error)
	OpenURIs() []string
	Changes() ([]string, uint64)
	AcknowledgeChanges(uris []string, token uint64)
}

// Options configure a Service.
type Options struct {
	Backend  compiler.Backend
	Files    Contents
	Notifier *notify.Notifier
	// FullRecompileThreshold of zero uses DefaultFullRecompileThreshold.
	FullRecompileThreshold int
	// SkipDir reports directory names never searched for sources.
	SkipDir func(name string) bool
}

// Service is the compilation scheduler. All methods are safe for concurrent
// use; compilations of one scope are serialized by the scope's lock.
type Service struct {
	manager   *scope.Manager
	pools     *executor.Pools
	backend   compiler.Backend
	files     Contents
	notifier  *notify.Notifier
	threshold int
	skipDir   func(string) bool
	logger    *slog.Logger
}

// New creates a Service.
func New(manager *scope.Manager, pools *executor.Pools, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New(nil, logger, notify.Options{})
	}
	if opts.FullRecompileThreshold <= 0 {
		opts.FullRecompileThreshold = DefaultFullRecompileThreshold
	}
	return &Service{
		manager:   manager,
		pools:     pools,
		backend:   opts.Backend,
		files:     opts.Files,
		notifier:  opts.Notifier,
		threshold: opts.FullRecompileThreshold,
		skipDir:   opts.SkipDir,
		logger:    logger,
	}
}

// EnsureScopeCompiled fully compiles sc unless it is already compiled or has
// no usable classpath. It reports whether a compilation ran.
func (s *Service) EnsureScopeCompiled(ctx context.Context, sc *scope.ProjectScope) bool {
	if sc == nil || sc.ClasspathState() == scope.ClasspathUnresolved {
		return false
	}
	unlock := sc.LockCompilation()
	defer unlock()

	if sc.Compiled() {
		return false
	}
	return s.compileFull(executor.WithProject(ctx, sc.Root()), sc, sc.PreviousContext())
}

// EnsureCompiledForContext makes the scope owning uri ready to serve uri.
// An uncompiled scope is compiled in full. A compiled scope is recompiled
// incrementally only when a pending change is reachable from uri, or touches
// the previous context. It returns nil when no scope owns uri.
func (s *Service) EnsureCompiledForContext(ctx context.Context, uri string) *scope.ProjectScope {
	sc := s.manager.FindProjectScope(uri)
	if sc == nil {
		return nil
	}
	sc.Touch()
	if sc.ClasspathState() == scope.ClasspathUnresolved {
		return sc
	}
	ctx = executor.WithProject(ctx, sc.Root())

	unlock := sc.LockCompilation()
	defer unlock()

	if !sc.Compiled() {
		s.compileFull(ctx, sc, uri)
		return sc
	}
	changes, token := s.files.Changes()
	pending := s.ownedBy(sc, changes)

	if sc.CompilationFailed() {
		// only a change made after the failure earns another attempt
		if len(pending) > 0 {
			sc.Invalidate()
			s.compileFull(ctx, sc, uri)
		}
		return sc
	}
	if len(pending) > 0 && s.affectsContext(sc, uri, pending) {
		s.compileIncremental(ctx, sc, uri, pending, token)
		return sc
	}
	sc.SetPreviousContext(uri)
	return sc
}

// ScheduleCompileForContext queues EnsureCompiledForContext on the
// compilation pool.
func (s *Service) ScheduleCompileForContext(ctx context.Context, uri string) (*executor.Future, error) {
	sc := s.manager.FindProjectScope(uri)
	if sc == nil {
		return executor.Completed(nil), nil
	}
	return s.pools.SubmitCompile(executor.WithProject(ctx, sc.Root()), func(ctx context.Context) error {
		s.EnsureCompiledForContext(ctx, uri)
		return nil
	})
}

// ScheduleScopeCompile queues EnsureScopeCompiled on the compilation pool.
func (s *Service) ScheduleScopeCompile(ctx context.Context, sc *scope.ProjectScope) (*executor.Future, error) {
	if sc == nil {
		return executor.Completed(nil), nil
	}
	return s.pools.SubmitCompile(executor.WithProject(ctx, sc.Root()), func(ctx context.Context) error {
		s.EnsureScopeCompiled(ctx, sc)
		return nil
	})
}

// CompileAll compiles every registered scope with a usable classpath and
// waits for them. It returns the number of scopes compiled.
func (s *Service) CompileAll(ctx context.Context) (int, error) {
	scopes := s.manager.Scopes()
	if len(scopes) == 0 {
		scopes = []*scope.ProjectScope{s.manager.DefaultScope()}
	}

	var futures []*executor.Future
	for _, sc := range scopes {
		if sc.ClasspathState() == scope.ClasspathUnresolved || sc.Compiled() {
			continue
		}
		f, err := s.ScheduleScopeCompile(ctx, sc)
		if err != nil {
			return 0, err
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		if err := f.Wait(ctx); err != nil {
			return 0, err
		}
	}
	return len(futures), nil
}

// ownedBy filters uris to those routed to sc.
func (s *Service) ownedBy(sc *scope.ProjectScope, uris []string) []string {
	var out []string
	for _, u := range uris {
		if s.manager.FindProjectScope(u) == sc {
			out = append(out, u)
		}
	}
	return out
}

// affectsContext reports whether one of the pending changes can be seen from
// uri: uri itself, a file reachable from it, a file not compiled yet, or the
// previous context the editor just left.
func (s *Service) affectsContext(sc *scope.ProjectScope, uri string, pending []string) bool {
	relevant := map[string]bool{uri: true}
	for _, f := range sc.Graph().Reachable(uri) {
		relevant[f] = true
	}
	if prev := sc.PreviousContext(); prev != "" && prev != uri {
		relevant[prev] = true
	}
	ast := sc.AST()
	for _, u := range pending {
		if relevant[u] || ast.File(u) == nil {
			return true
		}
	}
	return false
}

func phaseFor(sc *scope.ProjectScope) compiler.Phase {
	if sc.IsDefault() || sc.ClasspathState() != scope.ClasspathResolved {
		return compiler.PhaseSyntax
	}
	return compiler.PhaseSemantic
}

func kindFor(phase compiler.Phase, incremental bool) string {
	switch {
	case phase == compiler.PhaseSyntax:
		return metrics.KindSyntax
	case incremental:
		return metrics.KindIncremental
	default:
		return metrics.KindFull
	}
}

// compileFull rebuilds sc from every source it owns. The caller holds the
// scope's compilation lock. It reports whether a compilation ran.
func (s *Service) compileFull(ctx context.Context, sc *scope.ProjectScope, contextURI string) bool {
	run := uuid.NewString()
	root := sc.Root()
	gen := sc.StateGeneration()
	phase := phaseFor(sc)
	kind := kindFor(phase, false)

	// snapshot changes before reading contents so later edits stay pending
	changes, token := s.files.Changes()

	sources, err := s.collectSources(ctx, sc)
	if err != nil {
		return false
	}
	s.notifier.StatusUpdate(ctx, root, notify.StateCompiling, fmt.Sprintf("Compiling %d files", len(sources)))
	s.logger.DebugContext(ctx, "Full compile", "project", root, "run", run, "files", len(sources), "phase", phase.String())

	unit := compiler.Unit{
		Root:            root,
		Sources:         sources,
		Classpath:       sc.Classpath(),
		Phase:           phase,
		LanguageVersion: sc.LanguageVersion(),
	}
	start := time.Now()
	ast, diags, err := s.run(ctx, unit)
	if err != nil {
		return s.fail(ctx, sc, contextURI, sources, kind, start, err, s.ownedBy(sc, changes), token)
	}

	index := ast.ClassIndex()
	edges := make(map[string][]string, len(ast.Files))
	sigs := make(map[string]string, len(ast.Files))
	for uri, f := range ast.Files {
		edges[uri] = compiler.ResolveReferences(f, index)
		sigs[uri] = compiler.SignatureHash(f)
	}
	if err := sc.ApplyCompile(scope.CompileResult{
		Generation: gen,
		AST:        ast,
		Edges:      edges,
		Signatures: sigs,
		Full:       true,
	}); err != nil {
		s.logger.InfoContext(ctx, "Discarding compile result", "project", root, "run", run, "error", err.Error())
		return false
	}

	b := newBatch(sourceTexts(sources))
	b.cover(sourceURIs(sources)...)
	b.add(diags...)
	s.flush(ctx, sc, b, true)

	s.files.AcknowledgeChanges(s.ownedBy(sc, changes), token)
	sc.SetPreviousContext(contextURI)

	d := time.Since(start)
	metrics.Compilation(kind, metrics.OutcomeSuccess, d)
	s.notifier.StatusUpdate(ctx, root, notify.StateCompiled, fmt.Sprintf("Compiled %d files", len(sources)))
	s.logger.InfoContext(ctx, "Compiled project",
		"project", root,
		"run", run,
		"files", len(sources),
		"diagnostics", len(diags),
		"duration", d.String())
	return true
}

// compileIncremental recompiles the pending files of sc plus every file whose
// view of them changed. The caller holds the scope's compilation lock.
func (s *Service) compileIncremental(ctx context.Context, sc *scope.ProjectScope, contextURI string, pending []string, token uint64) bool {
	root := sc.Root()
	prev := sc.AST()

	var edited, gone []string
	structural := false
	for _, u := range pending {
		known := prev.File(u) != nil
		exists := s.exists(u)
		switch {
		case known && exists:
			edited = append(edited, u)
		case known != exists:
			structural = true
		default:
			gone = append(gone, u)
		}
	}
	if structural || len(edited) > s.threshold {
		s.logger.DebugContext(ctx, "Falling back to full compile", "project", root, "pending", len(pending), "structural", structural)
		return s.compileFull(ctx, sc, contextURI)
	}
	if len(edited) == 0 {
		s.files.AcknowledgeChanges(gone, token)
		sc.SetPreviousContext(contextURI)
		return false
	}

	gen := sc.StateGeneration()
	phase := phaseFor(sc)
	kind := kindFor(phase, true)
	start := time.Now()

	sources := s.readSources(edited)
	ast, diags, err := s.run(ctx, s.unit(sc, phase, sources, contextIndex(prev, nil, edited)))
	if err != nil {
		return s.fail(ctx, sc, contextURI, sources, kind, start, err, pending, token)
	}

	var apiChanged []string
	for _, u := range edited {
		old, _ := sc.Signature(u)
		if compiler.SignatureHash(ast.File(u)) != old {
			apiChanged = append(apiChanged, u)
		}
	}
	isEdited := make(map[string]bool, len(edited))
	for _, u := range edited {
		isEdited[u] = true
	}
	var dependents []string
	for _, u := range sc.Graph().TransitiveDependents(apiChanged...) {
		if !isEdited[u] {
			dependents = append(dependents, u)
		}
	}
	if len(edited)+len(dependents) > s.threshold {
		s.logger.DebugContext(ctx, "API change reaches too many files, compiling in full",
			"project", root, "changed", len(apiChanged), "dependents", len(dependents))
		return s.compileFull(ctx, sc, contextURI)
	}

	if len(dependents) > 0 {
		depSources := s.readSources(dependents)
		depAST, depDiags, err := s.run(ctx, s.unit(sc, phase, depSources, contextIndex(prev, ast, dependents)))
		if err != nil {
			return s.fail(ctx, sc, contextURI, append(sources, depSources...), kind, start, err, pending, token)
		}
		ast.Merge(depAST)
		diags = append(diags, depDiags...)
		sources = append(sources, depSources...)
	}

	// resolve edges against the merged view of the project
	merged := compiler.NewAST()
	merged.Merge(prev)
	merged.Merge(ast)
	index := merged.ClassIndex()
	edges := make(map[string][]string, len(ast.Files))
	sigs := make(map[string]string, len(ast.Files))
	for uri, f := range ast.Files {
		edges[uri] = compiler.ResolveReferences(f, index)
		sigs[uri] = compiler.SignatureHash(f)
	}
	if err := sc.ApplyCompile(scope.CompileResult{
		Generation: gen,
		AST:        ast,
		Edges:      edges,
		Signatures: sigs,
	}); err != nil {
		s.logger.InfoContext(ctx, "Discarding incremental result", "project", root, "error", err.Error())
		return false
	}

	b := newBatch(sourceTexts(sources))
	b.cover(sourceURIs(sources)...)
	b.add(diags...)
	s.flush(ctx, sc, b, false)

	s.files.AcknowledgeChanges(pending, token)
	sc.SetPreviousContext(contextURI)

	d := time.Since(start)
	metrics.Compilation(kind, metrics.OutcomeSuccess, d)
	s.logger.DebugContext(ctx, "Incremental compile",
		"project", root,
		"edited", len(edited),
		"dependents", len(dependents),
		"duration", d.String())
	return true
}

func (s *Service) unit(sc *scope.ProjectScope, phase compiler.Phase, sources []compiler.Source, classes map[string]string) compiler.Unit {
	return compiler.Unit{
		Root:            sc.Root(),
		Sources:         sources,
		Classpath:       sc.Classpath(),
		Phase:           phase,
		LanguageVersion: sc.LanguageVersion(),
		Context:         classes,
	}
}

// contextIndex indexes the classes of prev overlaid with fresh, leaving out
// the files being compiled.
func contextIndex(prev, fresh *compiler.AST, exclude []string) map[string]string {
	view := compiler.NewAST()
	view.Merge(prev)
	view.Merge(fresh)
	for _, u := range exclude {
		delete(view.Files, u)
	}
	return view.ClassIndex()
}

// run invokes the backend under a compile permit. A panic in the backend is
// reported as resource exhaustion.
func (s *Service) run(ctx context.Context, unit compiler.Unit) (ast *compiler.AST, diags []compiler.Diagnostic, err error) {
	release, err := s.pools.AcquireCompilePermit(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Compiler backend panicked",
				"project", unit.Root,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			ast, diags = nil, nil
			err = &compiler.ResourceExhaustedError{Reason: fmt.Sprint(r)}
		}
	}()

	if s.backend == nil {
		return nil, nil, errors.New("no compiler backend configured")
	}
	ast, diags, err = s.backend.Compile(ctx, unit)
	if err == nil && ast == nil {
		ast = compiler.NewAST()
	}
	return ast, diags, err
}

// fail records a failed compilation. Cancellation leaves the scope as it
// was; anything else marks it failed and acknowledges the changes the attempt
// covered, so only a later change triggers another attempt.
func (s *Service) fail(ctx context.Context, sc *scope.ProjectScope, contextURI string, sources []compiler.Source, kind string, start time.Time, err error, covered []string, token uint64) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, executor.ErrShutdown) {
		s.logger.DebugContext(ctx, "Compilation cancelled", "project", sc.Root(), "error", err.Error())
		return false
	}

	outcome := metrics.OutcomeBackendFail
	message := "Compilation failed"
	var exhausted *compiler.ResourceExhaustedError
	if errors.As(err, &exhausted) {
		outcome = metrics.OutcomeExhausted
		message = "Compilation disabled for this project: the compiler ran out of resources"
	}
	metrics.Compilation(kind, outcome, time.Since(start))

	if markErr := sc.MarkCompilationFailed(err.Error()); markErr != nil {
		s.logger.WarnContext(ctx, "Could not record compilation failure", "project", sc.Root(), "error", markErr.Error())
	}
	s.logger.ErrorContext(ctx, "Compilation failed", "project", sc.Root(), "outcome", outcome, "error", err.Error())
	s.files.AcknowledgeChanges(covered, token)

	target := contextURI
	if target == "" && len(sources) > 0 {
		target = sources[0].URI
	}
	if target == "" && sc.Root() != "" {
		target = paths.FileURI(sc.Root())
	}
	if target != "" {
		b := newBatch(sourceTexts(sources))
		b.add(compiler.Diagnostic{URI: target, Diagnostic: protocol.Diagnostic{
			Severity: protocol.DiagnosticSeverityError,
			Source:   diagnosticSource,
			Message:  message + ": " + err.Error() + ". Edit a file to retry.",
		}})
		s.flush(ctx, sc, b, false)
	}

	project := sc.Root()
	if project == "" {
		project = "the default project"
	}
	s.notifier.ShowMessage(ctx, protocol.MessageTypeError, fmt.Sprintf("%s for %s: %v", message, project, err))
	s.notifier.StatusUpdate(ctx, sc.Root(), notify.StateDegraded, message)
	return true
}
