package compilation

import (
	"context"
	"sort"
	"strings"
	"unicode/utf16"

	"go.lsp.dev/protocol"

	"groovyls/internal/compiler"
	"groovyls/internal/scope"
)

const diagnosticSource = "groovyls"

// snapshot is the text of one document split into lines.
type snapshot []string

func newSnapshot(text string) snapshot {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// lineLength returns the length of line n in UTF-16 code units.
func (s snapshot) lineLength(n uint32) uint32 {
	var units uint32
	for _, r := range s[n] {
		if l := utf16.RuneLen(r); l > 0 {
			units += uint32(l)
		} else {
			units++
		}
	}
	return units
}

func (s snapshot) clamp(p protocol.Position) protocol.Position {
	last := uint32(len(s) - 1)
	if p.Line > last {
		return protocol.Position{Line: last, Character: s.lineLength(last)}
	}
	if n := s.lineLength(p.Line); p.Character > n {
		p.Character = n
	}
	return p
}

func before(a, b protocol.Position) bool {
	return a.Line < b.Line || (a.Line == b.Line && a.Character < b.Character)
}

// ClampRange fits r inside text and orders it so End is not before Start.
func ClampRange(r protocol.Range, text string) protocol.Range {
	return newSnapshot(text).clampRange(r)
}

func (s snapshot) clampRange(r protocol.Range) protocol.Range {
	start, end := s.clamp(r.Start), s.clamp(r.End)
	if before(end, start) {
		start, end = end, start
	}
	return protocol.Range{Start: start, End: end}
}

// Normalize clamps every diagnostic to text and sorts them by position.
func Normalize(diags []protocol.Diagnostic, text string) []protocol.Diagnostic {
	snap := newSnapshot(text)
	out := make([]protocol.Diagnostic, len(diags))
	for i, d := range diags {
		d.Range = snap.clampRange(d.Range)
		if d.Source == "" {
			d.Source = diagnosticSource
		}
		out[i] = d
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Range.Start, out[j].Range.Start
		if a != b {
			return before(a, b)
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// batch collects the diagnostics of one scope until they are flushed.
type batch struct {
	byURI map[string][]protocol.Diagnostic
	texts map[string]string
}

func newBatch(texts map[string]string) *batch {
	return &batch{byURI: make(map[string][]protocol.Diagnostic), texts: texts}
}

// cover makes uri part of the flush even when it has no diagnostics.
func (b *batch) cover(uris ...string) {
	for _, u := range uris {
		if _, ok := b.byURI[u]; !ok {
			b.byURI[u] = nil
		}
	}
}

func (b *batch) add(diags ...compiler.Diagnostic) {
	for _, d := range diags {
		if d.URI == "" {
			continue
		}
		b.byURI[d.URI] = append(b.byURI[d.URI], d.Diagnostic)
	}
}

// flush publishes the batch in URI order. A full flush also clears every
// URI the scope published before that is not part of the batch.
func (s *Service) flush(ctx context.Context, sc *scope.ProjectScope, b *batch, full bool) {
	prev := sc.Published()
	published := make(map[string]bool, len(prev))
	for _, u := range prev {
		published[u] = true
	}
	if full {
		b.cover(prev...)
	}

	uris := make([]string, 0, len(b.byURI))
	for u := range b.byURI {
		uris = append(uris, u)
	}
	sort.Strings(uris)

	for _, u := range uris {
		diags := b.byURI[u]
		if len(diags) == 0 && !published[u] {
			continue
		}
		text, ok := b.texts[u]
		if !ok {
			text, _ = s.files.Read(u)
		}
		norm := Normalize(diags, text)
		s.notifier.PublishDiagnostics(ctx, u, norm)
		if len(norm) > 0 {
			published[u] = true
		} else {
			delete(published, u)
		}
	}

	next := make([]string, 0, len(published))
	for u := range published {
		next = append(next, u)
	}
	sc.SetPublished(next)
}
