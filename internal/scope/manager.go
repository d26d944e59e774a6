package scope

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"groovyls/internal/paths"
)

// Manager is the single owner of every ProjectScope. Lookups never fail on bad
// identity: unknown roots, empty URIs and nil scopes give nil, false or a no-op.
type Manager struct {
	logger *slog.Logger

	mu            sync.RWMutex
	workspaceRoot string
	defaultScope  *ProjectScope
	// scopes is sorted by root length, longest first.
	scopes   []*ProjectScope
	byRoot   map[string]*ProjectScope
	inFlight map[string]bool
	epochs   map[string]uint64
	features map[string]bool
}

// NewManager creates a manager with only the default scope.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		logger:       logger,
		defaultScope: newDefaultScope(),
		byRoot:       make(map[string]*ProjectScope),
		inFlight:     make(map[string]bool),
		epochs:       make(map[string]uint64),
		features:     make(map[string]bool),
	}
}

// SetWorkspaceRoot replaces the default scope and clears the registry.
func (m *Manager) SetWorkspaceRoot(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaceRoot = root
	m.defaultScope = newDefaultScope()
	m.scopes = nil
	m.byRoot = make(map[string]*ProjectScope)
	m.inFlight = make(map[string]bool)
	for r := range m.epochs {
		m.epochs[r]++
	}
}

// WorkspaceRoot returns the current workspace root.
func (m *Manager) WorkspaceRoot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workspaceRoot
}

// DefaultScope returns the scope used when no project is registered.
func (m *Manager) DefaultScope() *ProjectScope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultScope
}

// RegisterDiscoveredProjects replaces the registry with one fresh scope per
// root. Every listed root starts a new registration epoch.
func (m *Manager) RegisterDiscoveredProjects(roots []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byRoot = make(map[string]*ProjectScope, len(roots))
	m.scopes = m.scopes[:0:0]
	for _, r := range roots {
		if r == "" {
			continue
		}
		if _, dup := m.byRoot[r]; dup {
			continue
		}
		s := newScope(r)
		m.byRoot[r] = s
		m.scopes = append(m.scopes, s)
		m.epochs[r]++
	}
	m.sortLocked()
	m.logger.Info("Registered projects", "count", len(m.scopes))
}

// AddProjects registers roots with known classpaths, keeping existing scopes.
// Used when classpaths come from the persisted cache.
func (m *Manager) AddProjects(classpaths map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for r, entries := range classpaths {
		if r == "" {
			continue
		}
		s, ok := m.byRoot[r]
		if !ok {
			s = newScope(r)
			m.byRoot[r] = s
			m.scopes = append(m.scopes, s)
			m.epochs[r]++
		}
		if err := s.applyClasspath(entries); err != nil {
			m.logger.Warn("Failed to apply classpath", "project", r, "error", err.Error())
		}
	}
	m.sortLocked()
}

// ResetProject starts a new registration epoch for root with a fresh scope.
// Used when the project's build file changes.
func (m *Manager) ResetProject(root string) *ProjectScope {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.byRoot[root]
	if !ok {
		return nil
	}
	s := newScope(root)
	m.byRoot[root] = s
	for i, sc := range m.scopes {
		if sc == old {
			m.scopes[i] = s
		}
	}
	m.epochs[root]++
	return s
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.scopes, func(i, j int) bool {
		if len(m.scopes[i].root) != len(m.scopes[j].root) {
			return len(m.scopes[i].root) > len(m.scopes[j].root)
		}
		return m.scopes[i].root < m.scopes[j].root
	})
}

// FindProjectScope returns the scope whose root is the longest prefix of the
// document's path. With no projects registered it returns the default scope;
// with projects registered and none matching it returns nil.
func (m *Manager) FindProjectScope(uri string) *ProjectScope {
	if uri == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.scopes) == 0 {
		return m.defaultScope
	}
	path, err := paths.URIToPath(uri)
	if err != nil {
		return nil
	}
	for _, s := range m.scopes {
		if paths.IsWithin(path, s.root) {
			return s
		}
	}
	return nil
}

// FindProjectScopeByRoot is an exact lookup.
func (m *Manager) FindProjectScopeByRoot(root string) *ProjectScope {
	if root == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byRoot[root]
}

// Scopes returns the registered scopes, longest root first.
func (m *Manager) Scopes() []*ProjectScope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*ProjectScope(nil), m.scopes...)
}

// Roots returns the registered roots in sorted order.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byRoot))
	for r := range m.byRoot {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Epoch returns the registration epoch of root. Zero means never registered.
func (m *Manager) Epoch(root string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epochs[root]
}

// MarkResolutionStarted sets root in flight. It returns false if a resolution
// is already in flight or the root is not registered.
func (m *Manager) MarkResolutionStarted(root string) bool {
	if root == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRoot[root]; !ok {
		return false
	}
	if m.inFlight[root] {
		return false
	}
	m.inFlight[root] = true
	return true
}

// MarkResolutionComplete clears the in-flight flag of root.
func (m *Manager) MarkResolutionComplete(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, root)
}

// IsResolutionInFlight reports whether root has a resolution in flight.
func (m *Manager) IsResolutionInFlight(root string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inFlight[root]
}

// UpdateProjectClasspaths applies entries to every known root in the map.
func (m *Manager) UpdateProjectClasspaths(classpaths map[string][]string) {
	for r, entries := range classpaths {
		m.UpdateProjectClasspath(r, entries)
	}
}

// UpdateProjectClasspath sets the entries of root and marks its classpath
// resolved. Unknown roots give nil.
func (m *Manager) UpdateProjectClasspath(root string, entries []string) *ProjectScope {
	s := m.FindProjectScopeByRoot(root)
	if s == nil {
		return nil
	}
	if err := s.applyClasspath(entries); err != nil {
		m.logger.Warn("Failed to apply classpath", "project", root, "error", err.Error())
		return nil
	}
	return s
}

// MarkClasspathDegraded records that resolution of root failed. The scope
// stays usable for syntax-only compilation.
func (m *Manager) MarkClasspathDegraded(root string) *ProjectScope {
	s := m.FindProjectScopeByRoot(root)
	if s == nil {
		return nil
	}
	if err := s.markDegraded(); err != nil {
		m.logger.Warn("Failed to degrade classpath", "project", root, "error", err.Error())
		return nil
	}
	return s
}

// SetFeature toggles a named feature.
func (m *Manager) SetFeature(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[name] = enabled
}

// FeatureEnabled reports a feature toggle; unknown features are enabled.
func (m *Manager) FeatureEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enabled, ok := m.features[name]
	return !ok || enabled
}

// EvictIdle drops compiled state of scopes idle for longer than ttl. Scopes for
// which keep returns true are skipped. It returns the number evicted.
func (m *Manager) EvictIdle(ttl time.Duration, keep func(*ProjectScope) bool) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)
	evicted := 0
	for _, s := range m.Scopes() {
		if s.CompilationState() == NotCompiled || !s.LastUsed().Before(cutoff) {
			continue
		}
		if keep != nil && keep(s) {
			continue
		}
		s.Invalidate()
		evicted++
		m.logger.Debug("Evicted idle scope", "project", s.root)
	}
	return evicted
}

// Snapshots returns status views of all registered scopes.
func (m *Manager) Snapshots() []Snapshot {
	scopes := m.Scopes()
	out := make([]Snapshot, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}
