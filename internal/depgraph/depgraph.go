// Package depgraph holds the per-scope file dependency graph. An edge A -> B
// means the compiled unit of file A references a class declared in file B.
package depgraph

import (
	"errors"
	"sort"
	"sync"

	graphlib "github.com/dominikbraun/graph"
)

// Graph is a concurrency-safe directed file graph. out and in mirror the
// library graph's edges so per-file updates do not rebuild adjacency maps.
type Graph struct {
	mu  sync.RWMutex
	g   graphlib.Graph[string, string]
	out map[string]map[string]struct{}
	in  map[string]map[string]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		g:   newGraph(),
		out: make(map[string]map[string]struct{}),
		in:  make(map[string]map[string]struct{}),
	}
}

func newGraph() graphlib.Graph[string, string] {
	return graphlib.New(graphlib.StringHash, graphlib.Directed())
}

// FromEdges builds a graph from a forward adjacency map.
func FromEdges(edges map[string][]string) *Graph {
	g := New()
	for file, deps := range edges {
		_ = g.UpdateFileDeps(file, deps)
	}
	return g
}

func (g *Graph) addEdge(from, to string) error {
	if err := g.g.AddEdge(from, to); err != nil && !errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
		return err
	}
	link(g.out, from, to)
	link(g.in, to, from)
	return nil
}

func (g *Graph) removeEdge(from, to string) {
	_ = g.g.RemoveEdge(from, to)
	unlink(g.out, from, to)
	unlink(g.in, to, from)
}

func link(m map[string]map[string]struct{}, a, b string) {
	set, ok := m[a]
	if !ok {
		set = make(map[string]struct{})
		m[a] = set
	}
	set[b] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, a, b string) {
	if set, ok := m[a]; ok {
		delete(set, b)
		if len(set) == 0 {
			delete(m, a)
		}
	}
}

func (g *Graph) ensureVertex(file string) error {
	if err := g.g.AddVertex(file); err != nil && !errors.Is(err, graphlib.ErrVertexAlreadyExists) {
		return err
	}
	return nil
}

// UpdateFileDeps replaces the outgoing edges of file. Self references are skipped.
func (g *Graph) UpdateFileDeps(file string, deps []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureVertex(file); err != nil {
		return err
	}
	for target := range g.out[file] {
		g.removeEdge(file, target)
	}
	for _, dep := range deps {
		if dep == "" || dep == file {
			continue
		}
		if err := g.ensureVertex(dep); err != nil {
			return err
		}
		if err := g.addEdge(file, dep); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile drops file and every edge touching it.
func (g *Graph) RemoveFile(file string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.g.Vertex(file); err != nil {
		return
	}
	for target := range g.out[file] {
		g.removeEdge(file, target)
	}
	for source := range g.in[file] {
		g.removeEdge(source, file)
	}
	_ = g.g.RemoveVertex(file)
}

// Clear drops all files and edges.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.g = newGraph()
	g.out = make(map[string]map[string]struct{})
	g.in = make(map[string]map[string]struct{})
}

// GetDependencies returns the files file depends on directly.
func (g *Graph) GetDependencies(file string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.out[file])
}

// GetDependents returns the files that depend on file directly.
func (g *Graph) GetDependents(file string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.in[file])
}

// TransitiveDependents walks reverse edges from the changed files and returns
// every other file that depends on them, directly or not.
func (g *Graph) TransitiveDependents(changed ...string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start := make(map[string]bool, len(changed))
	for _, c := range changed {
		start[c] = true
	}
	visited := make(map[string]bool)
	queue := append([]string(nil), changed...)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dependent := range g.in[cur] {
			if visited[dependent] || start[dependent] {
				continue
			}
			visited[dependent] = true
			queue = append(queue, dependent)
		}
	}
	return sortedKeys(visited)
}

// Reachable returns every file reachable from file along forward edges,
// including file itself when it is in the graph.
func (g *Graph) Reachable(file string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	err := graphlib.BFS(g.g, file, func(v string) bool {
		out = append(out, v)
		return false
	})
	if err != nil {
		return nil
	}
	sort.Strings(out)
	return out
}

// Files returns every file in the graph.
func (g *Graph) Files() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adj, err := g.g.AdjacencyMap()
	if err != nil {
		return nil
	}
	return sortedKeys(adj)
}

// Edges returns a snapshot of the forward adjacency map.
func (g *Graph) Edges() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adj, err := g.g.AdjacencyMap()
	if err != nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(adj))
	for f := range adj {
		out[f] = sortedKeys(g.out[f])
	}
	return out
}

// Len returns the number of files in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.g.Order()
	if err != nil {
		return 0
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
