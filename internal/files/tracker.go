// Package files tracks document contents and on-disk changes.
package files

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"groovyls/internal/paths"
)

// SourceExtensions are the file extensions compiled by the server.
var SourceExtensions = []string{".groovy", ".java", ".gvy", ".gy", ".gsh"}

// IsSourceFile reports whether path has a compiled extension.
func IsSourceFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

type document struct {
	text    string
	version int32
}

// Tracker holds the contents of open documents and the set of URIs changed
// since the last acknowledged compile. A change is stamped with a sequence
// number so acknowledging an older snapshot never drops a newer change.
type Tracker struct {
	mu      sync.RWMutex
	open    map[string]*document
	changed map[string]uint64
	seq     uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		open:    make(map[string]*document),
		changed: make(map[string]uint64),
	}
}

// DidOpen records an opened document.
func (t *Tracker) DidOpen(uri, text string, version int32) {
	if uri == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, wasOpen := t.open[uri]
	t.open[uri] = &document{text: text, version: version}
	if !wasOpen || prev.text != text {
		t.markLocked(uri)
	}
}

// DidChange replaces the full text of an open document.
func (t *Tracker) DidChange(uri, text string, version int32) {
	if uri == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[uri] = &document{text: text, version: version}
	t.markLocked(uri)
}

// DidClose forgets an open document. Its contents revert to disk, so it
// counts as changed.
func (t *Tracker) DidClose(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[uri]; !ok {
		return
	}
	delete(t.open, uri)
	t.markLocked(uri)
}

// MarkChanged records changes made outside the editor.
func (t *Tracker) MarkChanged(uris ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range uris {
		if u != "" {
			t.markLocked(u)
		}
	}
}

func (t *Tracker) markLocked(uri string) {
	t.seq++
	t.changed[uri] = t.seq
}

// Contents returns the in-memory text of an open document.
func (t *Tracker) Contents(uri string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.open[uri]
	if !ok {
		return "", false
	}
	return d.text, true
}

// Version returns the editor version of an open document, or 0.
func (t *Tracker) Version(uri string) int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if d, ok := t.open[uri]; ok {
		return d.version
	}
	return 0
}

// Read returns the open contents of uri, falling back to the file on disk.
func (t *Tracker) Read(uri string) (string, error) {
	if text, ok := t.Contents(uri); ok {
		return text, nil
	}
	path, err := paths.URIToPath(uri)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// IsOpen reports whether uri is open in the editor.
func (t *Tracker) IsOpen(uri string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[uri]
	return ok
}

// OpenURIs returns the open documents in sorted order.
func (t *Tracker) OpenURIs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.open))
	for u := range t.open {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ChangedURIs returns the pending changes in sorted order.
func (t *Tracker) ChangedURIs() []string {
	uris, _ := t.Changes()
	return uris
}

// Changes returns the pending changes and a token for AcknowledgeChanges.
func (t *Tracker) Changes() ([]string, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.changed))
	for u := range t.changed {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, t.seq
}

// AcknowledgeChanges clears uris that have not changed again since token
// was handed out by Changes.
func (t *Tracker) AcknowledgeChanges(uris []string, token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range uris {
		if seq, ok := t.changed[u]; ok && seq <= token {
			delete(t.changed, u)
		}
	}
}
