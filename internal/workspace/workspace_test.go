package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"groovyls/internal/classpath"
	"groovyls/internal/compiler"
	"groovyls/internal/config"
	"groovyls/internal/files"
	"groovyls/internal/notify"
	"groovyls/internal/paths"
	"groovyls/internal/scope"
)

const waitFor = 5 * time.Second

type mockImporter struct {
	mock.Mock
	roots    []string
	resolves atomic.Int32
}

func (m *mockImporter) Name() string { return "gradle" }

func (m *mockImporter) DiscoverProjects(context.Context, string) ([]string, error) {
	return m.roots, nil
}

func (m *mockImporter) ClaimsProject(root string) bool {
	_, err := os.Stat(filepath.Join(root, "build.gradle"))
	return err == nil
}

func (m *mockImporter) ResolveClasspath(ctx context.Context, root string) ([]string, error) {
	m.resolves.Add(1)
	args := m.Called(ctx, root)
	entries, _ := args.Get(0).([]string)
	return entries, args.Error(1)
}

func (m *mockImporter) ImportProject(ctx context.Context, root string) ([]string, error) {
	return m.ResolveClasspath(ctx, root)
}

func (m *mockImporter) DetectProjectGroovyVersion(string, []string) string { return "4.0.21" }

func (m *mockImporter) ShouldMarkClasspathResolved(string, []string) bool { return true }

func (m *mockImporter) Recompile(context.Context, string) error { return nil }

func (m *mockImporter) IsProjectFile(path string) bool {
	return filepath.Base(path) == "build.gradle"
}

// recordingBackend compiles "class X" / "uses Y" sources and remembers units.
type recordingBackend struct {
	mu    sync.Mutex
	units []compiler.Unit
	err   error
}

func (b *recordingBackend) Compile(_ context.Context, unit compiler.Unit) (*compiler.AST, []compiler.Diagnostic, error) {
	b.mu.Lock()
	b.units = append(b.units, unit)
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	ast := compiler.NewAST()
	for _, src := range unit.Sources {
		name := strings.TrimSuffix(filepath.Base(src.URI), ".groovy")
		lines := strings.Split(src.Text, "\n")
		f := &compiler.FileNode{
			URI:     src.URI,
			Package: "p",
			Classes: []compiler.ClassNode{{Name: name, QualifiedName: "p." + name, Kind: "class", Signature: lines[0]}},
		}
		for _, l := range lines {
			if ref, ok := strings.CutPrefix(strings.TrimSpace(l), "uses "); ok {
				f.References = append(f.References, ref)
			}
		}
		ast.Files[src.URI] = f
	}
	return ast, nil, nil
}

func (b *recordingBackend) snapshot() []compiler.Unit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]compiler.Unit(nil), b.units...)
}

type fixture struct {
	ws       *Workspace
	root     string
	app      string
	lib      string
	importer *mockImporter
	backend  *recordingBackend
	recorder *notify.Recorder
}

func write(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := paths.CanonicalizeRoot(t.TempDir())
	require.NoError(t, err)

	app := filepath.Join(root, "app")
	lib := filepath.Join(root, "lib")
	write(t, filepath.Join(app, "build.gradle"), "apply plugin: 'groovy'")
	write(t, filepath.Join(app, "src", "App.groovy"), "class App\nuses Util")
	write(t, filepath.Join(app, "src", "Util.groovy"), "class Util")
	write(t, filepath.Join(lib, "build.gradle"), "apply plugin: 'groovy'")
	write(t, filepath.Join(lib, "src", "Lib.groovy"), "class Lib")

	cfg := config.DefaultConfig()
	cfg.Compile.DebounceMs = 10
	cfg.Status.MemoryReportSeconds = 0
	cfg.Scopes.EvictionTTLSeconds = 0

	f := &fixture{
		root:     root,
		app:      app,
		lib:      lib,
		importer: &mockImporter{roots: []string{app, lib}},
		backend:  &recordingBackend{},
		recorder: notify.NewRecorder(),
	}
	f.ws = New(cfg, Deps{
		Importers: []classpath.ProjectImporter{f.importer},
		Backend:   f.backend,
		Sink:      f.recorder,
	}, nil)
	t.Cleanup(func() { _ = f.ws.Shutdown() })

	projects, err := f.ws.Open(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, []string{app, lib}, projects)
	return f
}

func (f *fixture) uri(parts ...string) string {
	return paths.FileURI(filepath.Join(append([]string{f.root}, parts...)...))
}

func (f *fixture) scope(root string) *scope.ProjectScope {
	return f.ws.Manager().FindProjectScopeByRoot(root)
}

// flush waits until queued notifications reached the recorder.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.ws.FlushNotifications(ctx))
}

func TestOpeningAFileResolvesItsProjectOnce(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	ctx := context.Background()

	appURI := f.uri("app", "src", "App.groovy")
	f.ws.DidOpen(ctx, appURI, "class App\nuses Util", 1)

	sc := f.scope(f.app)
	require.Eventually(t, sc.ClasspathResolved, waitFor, 5*time.Millisecond)
	require.Eventually(t, sc.Compiled, waitFor, 5*time.Millisecond)
	assert.False(t, f.ws.Manager().IsResolutionInFlight(f.app))
	assert.Equal(t, scope.ResolutionResolved, f.ws.Coordinator().State(f.app))
	assert.Equal(t, "4.0.21", sc.LanguageVersion())

	// more events on the same project do not resolve again
	f.ws.DidOpen(ctx, f.uri("app", "src", "Util.groovy"), "class Util", 1)
	f.ws.DidChange(ctx, appURI, "class App\nuses Util\n// edit", 2)
	require.Eventually(t, func() bool { return len(f.ws.Files().ChangedURIs()) == 0 }, waitFor, 5*time.Millisecond)

	f.importer.AssertNumberOfCalls(t, "ResolveClasspath", 1)
	assert.Equal(t, scope.ClasspathUnresolved, f.scope(f.lib).ClasspathState(), "untouched projects stay unresolved")
}

func TestOutOfMemoryDuringCompileDegradesTheProject(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	f.backend.err = &compiler.ResourceExhaustedError{Reason: "java.lang.OutOfMemoryError: GC overhead limit exceeded"}

	appURI := f.uri("app", "src", "App.groovy")
	f.ws.DidOpen(context.Background(), appURI, "class App", 1)

	sc := f.scope(f.app)
	require.Eventually(t, sc.CompilationFailed, waitFor, 5*time.Millisecond)
	assert.True(t, sc.Compiled())
	f.flush(t)
	assert.NotEmpty(t, f.recorder.AllDiagnostics())

	var errorMessages int
	for _, m := range f.recorder.Messages() {
		if m.Type == protocol.MessageTypeError {
			errorMessages++
		}
	}
	assert.GreaterOrEqual(t, errorMessages, 1)
	assert.Zero(t, f.ws.Pools().PermitsInUse())
}

func TestFailedResolutionCompilesSyntaxOnly(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.lib).Return(nil, errors.New("gradle exited with status 1"))

	f.ws.DidOpen(context.Background(), f.uri("lib", "src", "Lib.groovy"), "class Lib", 1)

	sc := f.scope(f.lib)
	require.Eventually(t, sc.Compiled, waitFor, 5*time.Millisecond)
	assert.Equal(t, scope.ClasspathDegraded, sc.ClasspathState())
	assert.Equal(t, scope.ResolutionFailed, f.ws.Coordinator().State(f.lib))

	units := f.backend.snapshot()
	require.NotEmpty(t, units)
	assert.Equal(t, compiler.PhaseSyntax, units[len(units)-1].Phase)

	f.flush(t)
	var warned bool
	for _, m := range f.recorder.Messages() {
		warned = warned || m.Type == protocol.MessageTypeWarning
	}
	assert.True(t, warned)
}

func TestDocumentsOutsideProjectsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.ws.DidOpen(context.Background(), paths.FileURI("/elsewhere/Stray.groovy"), "class Stray", 1)
	f.ws.DidChange(context.Background(), paths.FileURI("/elsewhere/Stray.groovy"), "class Stray2", 2)

	f.importer.AssertNotCalled(t, "ResolveClasspath", mock.Anything, mock.Anything)
	assert.Empty(t, f.backend.snapshot())
}

func TestChangesAreDebouncedPerProject(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	ctx := context.Background()

	appURI := f.uri("app", "src", "App.groovy")
	f.ws.DidOpen(ctx, appURI, "class App", 1)
	sc := f.scope(f.app)
	require.Eventually(t, sc.Compiled, waitFor, 5*time.Millisecond)

	for i := int32(2); i < 12; i++ {
		f.ws.DidChange(ctx, appURI, "class App extends Base", i)
	}
	f.ws.DidSave(ctx, appURI)

	require.Eventually(t, func() bool {
		file := sc.AST().File(appURI)
		return file != nil && file.Classes[0].Signature == "class App extends Base"
	}, waitFor, 5*time.Millisecond)
	assert.Less(t, len(f.backend.snapshot()), 12)
}

func TestBuildFileChangeResolvesAgain(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	ctx := context.Background()

	f.ws.DidOpen(ctx, f.uri("app", "src", "App.groovy"), "class App", 1)
	require.Eventually(t, f.scope(f.app).Compiled, waitFor, 5*time.Millisecond)

	f.ws.HandleFileEvents(ctx, []files.Event{{Type: files.EventModify, Path: filepath.Join(f.app, "build.gradle")}})

	require.Eventually(t, func() bool {
		return f.importer.resolves.Load() == 2 && f.scope(f.app).ClasspathResolved()
	}, waitFor, 5*time.Millisecond)
}

func TestNewBuildFileRediscoversAndResolvesOpenProjects(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	ctx := context.Background()

	f.ws.DidOpen(ctx, f.uri("app", "src", "App.groovy"), "class App", 1)
	require.Eventually(t, f.scope(f.app).Compiled, waitFor, 5*time.Millisecond)
	before := f.scope(f.app)

	extra := filepath.Join(f.root, "extra")
	write(t, filepath.Join(extra, "build.gradle"), "apply plugin: 'groovy'")
	f.importer.roots = []string{f.app, extra, f.lib}
	f.ws.HandleFileEvents(ctx, []files.Event{{Type: files.EventCreate, Path: filepath.Join(extra, "build.gradle")}})

	require.NotNil(t, f.scope(extra))
	require.NotSame(t, before, f.scope(f.app))
	require.Eventually(t, func() bool {
		sc := f.scope(f.app)
		return f.importer.resolves.Load() == 2 && sc.ClasspathResolved() && sc.Compiled()
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, scope.ClasspathUnresolved, f.scope(extra).ClasspathState(), "projects without open documents stay lazy")
	f.importer.AssertNotCalled(t, "ResolveClasspath", mock.Anything, extra)
}

func TestOnDiskSourceChangeRecompilesReachableContext(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	ctx := context.Background()

	appURI := f.uri("app", "src", "App.groovy")
	utilURI := f.uri("app", "src", "Util.groovy")
	f.ws.DidOpen(ctx, appURI, "class App\nuses Util", 1)
	sc := f.scope(f.app)
	require.Eventually(t, func() bool { return sc.Compiled() && sc.PreviousContext() == appURI }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.ws.Files().ChangedURIs()) == 0 }, waitFor, 5*time.Millisecond)

	write(t, filepath.Join(f.app, "src", "Util.groovy"), "class Util\n// touched")
	f.ws.HandleFileEvents(ctx, []files.Event{{Type: files.EventModify, Path: filepath.Join(f.app, "src", "Util.groovy")}})

	require.Eventually(t, func() bool {
		units := f.backend.snapshot()
		last := units[len(units)-1]
		return len(last.Sources) == 1 && last.Sources[0].URI == utilURI
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.ws.Files().ChangedURIs()) == 0 }, waitFor, 5*time.Millisecond)
}

func TestEvictIdleKeepsProjectsWithOpenDocuments(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	ctx := context.Background()

	appURI := f.uri("app", "src", "App.groovy")
	f.ws.DidOpen(ctx, appURI, "class App", 1)
	sc := f.scope(f.app)
	require.Eventually(t, sc.Compiled, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.ws.Files().ChangedURIs()) == 0 }, waitFor, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.ws.EvictIdle(ctx, time.Millisecond))
	assert.True(t, sc.Compiled())

	f.ws.DidClose(ctx, appURI)
	assert.Equal(t, 1, f.ws.EvictIdle(ctx, time.Millisecond))
	assert.False(t, sc.Compiled())
	assert.True(t, sc.ClasspathResolved(), "eviction keeps the classpath")
}

func TestReportMemory(t *testing.T) {
	f := newFixture(t)
	f.ws.ReportMemory(context.Background())
	f.flush(t)

	reports := f.recorder.MemoryReports()
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Scopes)
	assert.Zero(t, reports[0].CompiledScopes)
	assert.NotZero(t, reports[0].HeapSysBytes)
}

func TestResolveAllThenCompileAll(t *testing.T) {
	f := newFixture(t)
	f.importer.On("ResolveClasspath", mock.Anything, f.app).Return([]string{"/m2/groovy-4.0.21.jar"}, nil)
	f.importer.On("ResolveClasspath", mock.Anything, f.lib).Return(nil, errors.New("no wrapper"))
	ctx := context.Background()

	require.NoError(t, f.ws.ResolveAll(ctx))
	n, err := f.ws.CompileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status := f.ws.Status()
	require.Len(t, status, 2)
	assert.Equal(t, f.app, status[0].Root)
	assert.Equal(t, "RESOLVED", status[0].Resolution)
	assert.Equal(t, "gradle", status[0].Importer)
	assert.Equal(t, "compiled", status[0].Compilation)
	assert.Equal(t, "FAILED", status[1].Resolution)
	assert.Contains(t, status[1].ResolutionError, "no wrapper")
	assert.Equal(t, "degraded", status[1].Classpath)
}

func TestShutdownStopsScheduling(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ws.Shutdown())
	assert.True(t, f.ws.Pools().IsShutdown())

	assert.NotPanics(t, func() {
		f.ws.DidOpen(context.Background(), f.uri("app", "src", "App.groovy"), "class App", 1)
	})
	require.NoError(t, f.ws.Shutdown())
}
