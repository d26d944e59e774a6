// Package scope owns the per-project compilation state and routes documents
// to the project that owns them.
package scope

import (
	"errors"
	"sort"
	"sync"
	"time"

	"groovyls/internal/compiler"
	"groovyls/internal/depgraph"
)

// ProjectScope is the state record of one project root. The default scope has
// an empty root. All fields are guarded by mu; callers go through accessors.
type ProjectScope struct {
	root string

	mu               sync.Mutex
	classpath        []string
	classpathState   ClasspathState
	compilationState CompilationState
	languageVersion  string
	failureReason    string
	graph            *depgraph.Graph
	ast              *compiler.AST
	signatures       map[string]string
	compiledSources  map[string]bool
	published        map[string]bool
	previousContext  string
	lastUsed         time.Time
	// generation changes whenever the classpath, the classpath state or the
	// compiled state is reset.
	generation uint64

	// compileMu serializes compilations of this scope.
	compileMu sync.Mutex
}

func newScope(root string) *ProjectScope {
	return &ProjectScope{
		root:       root,
		graph:      depgraph.New(),
		signatures: make(map[string]string),
		published:  make(map[string]bool),
		lastUsed:   time.Now(),
		generation: 1,
	}
}

func newDefaultScope() *ProjectScope {
	s := newScope("")
	s.classpathState = ClasspathResolved
	return s
}

// Root returns the project root, or "" for the default scope.
func (s *ProjectScope) Root() string {
	if s == nil {
		return ""
	}
	return s.root
}

// IsDefault reports whether s is the synthetic default scope.
func (s *ProjectScope) IsDefault() bool {
	return s != nil && s.root == ""
}

// Classpath returns a copy of the classpath entries.
func (s *ProjectScope) Classpath() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.classpath...)
}

// ClasspathState returns the classpath concern's state.
func (s *ProjectScope) ClasspathState() ClasspathState {
	if s == nil {
		return ClasspathUnresolved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classpathState
}

// ClasspathResolved reports whether the scope holds an accepted classpath.
func (s *ProjectScope) ClasspathResolved() bool {
	return s.ClasspathState() == ClasspathResolved
}

// CompilationState returns the compilation concern's state.
func (s *ProjectScope) CompilationState() CompilationState {
	if s == nil {
		return NotCompiled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compilationState
}

// Compiled reports whether the scope was compiled, successfully or not.
func (s *ProjectScope) Compiled() bool {
	st := s.CompilationState()
	return st == Compiled || st == CompilationFailed
}

// CompilationFailed reports whether the last compilation exhausted resources.
func (s *ProjectScope) CompilationFailed() bool {
	return s.CompilationState() == CompilationFailed
}

// FailureReason returns why the last compilation failed, if it did.
func (s *ProjectScope) FailureReason() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureReason
}

// LanguageVersion returns the detected Groovy version, or "".
func (s *ProjectScope) LanguageVersion() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.languageVersion
}

// SetLanguageVersion records the detected Groovy version.
func (s *ProjectScope) SetLanguageVersion(v string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.languageVersion = v
	s.mu.Unlock()
}

// Graph returns the scope's dependency graph.
func (s *ProjectScope) Graph() *depgraph.Graph {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// AST returns the last compiled AST, or nil.
func (s *ProjectScope) AST() *compiler.AST {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ast
}

// Signature returns the stored signature hash of uri.
func (s *ProjectScope) Signature(uri string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.signatures[uri]
	return h, ok
}

// CompiledSources returns the URIs that were part of the last compile.
func (s *ProjectScope) CompiledSources() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.compiledSources))
	for u := range s.compiledSources {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// PreviousContext returns the last URI the scope was asked to serve.
func (s *ProjectScope) PreviousContext() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previousContext
}

// SetPreviousContext records uri as the last served context and touches the scope.
func (s *ProjectScope) SetPreviousContext(uri string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.previousContext = uri
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Touch marks the scope as used now.
func (s *ProjectScope) Touch() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// LastUsed returns when the scope was last touched.
func (s *ProjectScope) LastUsed() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Published returns the URIs that currently carry published diagnostics.
func (s *ProjectScope) Published() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for u := range s.published {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// SetPublished replaces the set of URIs carrying diagnostics.
func (s *ProjectScope) SetPublished(uris []string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = make(map[string]bool, len(uris))
	for _, u := range uris {
		s.published[u] = true
	}
}

// LockCompilation serializes compilation of the scope. The returned func unlocks.
func (s *ProjectScope) LockCompilation() (unlock func()) {
	s.compileMu.Lock()
	return s.compileMu.Unlock
}

// ErrStaleCompile is returned by ApplyCompile when the classpath changed or
// the scope was invalidated while the compilation ran.
var ErrStaleCompile = errors.New("scope changed during compilation")

// StateGeneration identifies the scope state a compilation starts from. It
// moves on classpath changes and on Invalidate.
func (s *ProjectScope) StateGeneration() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CompileResult is what a compilation hands back to its scope.
type CompileResult struct {
	// Generation is the StateGeneration the compile started from.
	// Zero skips the check.
	Generation uint64

	AST        *compiler.AST
	Edges      map[string][]string
	Signatures map[string]string
	// Removed lists URIs that no longer exist in the project.
	Removed []string
	// Full replaces the AST, graph and source set instead of merging.
	Full bool
}

// ApplyCompile stores a successful compile and moves the scope to Compiled.
func (s *ProjectScope) ApplyCompile(res CompileResult) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Generation != 0 && res.Generation != s.generation {
		return ErrStaleCompile
	}
	if err := s.setCompilationLocked(Compiled); err != nil {
		return err
	}
	s.failureReason = ""
	// readers hold on to the previous AST, so it is replaced rather than mutated
	next := compiler.NewAST()
	if res.Full || s.ast == nil {
		s.graph = depgraph.New()
		s.signatures = make(map[string]string)
		s.compiledSources = make(map[string]bool)
	} else {
		next.Merge(s.ast)
	}
	next.Merge(res.AST, res.Removed...)
	s.ast = next
	for _, u := range res.Removed {
		s.graph.RemoveFile(u)
		delete(s.signatures, u)
		delete(s.compiledSources, u)
	}
	for file, deps := range res.Edges {
		if err := s.graph.UpdateFileDeps(file, deps); err != nil {
			return err
		}
	}
	for u, h := range res.Signatures {
		s.signatures[u] = h
	}
	if res.AST != nil {
		for u := range res.AST.Files {
			s.compiledSources[u] = true
		}
	}
	s.lastUsed = time.Now()
	return nil
}

// MarkCompilationFailed moves the scope to CompilationFailed.
func (s *ProjectScope) MarkCompilationFailed(reason string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setCompilationLocked(CompilationFailed); err != nil {
		return err
	}
	s.failureReason = reason
	return nil
}

// Invalidate drops compiled state so the next request compiles from scratch.
// A failed scope becomes eligible for compilation again.
func (s *ProjectScope) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.resetCompiledLocked()
}

func (s *ProjectScope) resetCompiledLocked() {
	s.compilationState = NotCompiled
	s.failureReason = ""
	s.ast = nil
	s.graph = depgraph.New()
	s.signatures = make(map[string]string)
	s.compiledSources = nil
	s.previousContext = ""
}

func (s *ProjectScope) setCompilationLocked(to CompilationState) error {
	if s.classpathState == ClasspathUnresolved {
		return &TransitionError{Concern: "compilation", From: s.compilationState.String(), To: to.String() + " (classpath unresolved)"}
	}
	if !CanTransitionCompilation(s.compilationState, to) {
		return &TransitionError{Concern: "compilation", From: s.compilationState.String(), To: to.String()}
	}
	s.compilationState = to
	return nil
}

func (s *ProjectScope) setClasspathLocked(to ClasspathState) error {
	if !CanTransitionClasspath(s.classpathState, to) {
		return &TransitionError{Concern: "classpath", From: s.classpathState.String(), To: to.String()}
	}
	if s.classpathState != to {
		s.generation++
	}
	s.classpathState = to
	if to == ClasspathUnresolved {
		s.resetCompiledLocked()
	}
	return nil
}

// applyClasspath sets entries and moves to Resolved. Compiled state built on a
// different classpath is dropped.
func (s *ProjectScope) applyClasspath(entries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.classpathState
	if err := s.setClasspathLocked(ClasspathResolved); err != nil {
		return err
	}
	changed := prev != ClasspathResolved || !equalStrings(s.classpath, entries)
	s.classpath = append([]string(nil), entries...)
	if changed {
		if prev == ClasspathResolved {
			s.generation++
		}
		if s.compilationState != NotCompiled {
			s.resetCompiledLocked()
		}
	}
	return nil
}

func (s *ProjectScope) markDegraded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setClasspathLocked(ClasspathDegraded)
}

// Snapshot is a read-only view of a scope for status output.
type Snapshot struct {
	Root            string    `json:"root" yaml:"root"`
	Classpath       string    `json:"classpath" yaml:"classpath"`
	Compilation     string    `json:"compilation" yaml:"compilation"`
	Entries         int       `json:"entries" yaml:"entries"`
	LanguageVersion string    `json:"languageVersion,omitempty" yaml:"languageVersion,omitempty"`
	Files           int       `json:"files" yaml:"files"`
	FailureReason   string    `json:"failureReason,omitempty" yaml:"failureReason,omitempty"`
	LastUsed        time.Time `json:"lastUsed" yaml:"lastUsed"`
}

// Snapshot returns a consistent view of the scope.
func (s *ProjectScope) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Root:            s.root,
		Classpath:       s.classpathState.String(),
		Compilation:     s.compilationState.String(),
		Entries:         len(s.classpath),
		LanguageVersion: s.languageVersion,
		Files:           len(s.compiledSources),
		FailureReason:   s.failureReason,
		LastUsed:        s.lastUsed,
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
