package compilation

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"groovyls/internal/compiler"
	"groovyls/internal/files"
	"groovyls/internal/paths"
	"groovyls/internal/scope"
)

// collectSources returns every source file owned by sc with editor contents
// overlaid on disk contents. Directories of nested projects are left to their
// own scopes. The default scope compiles only the open documents routed to it.
func (s *Service) collectSources(ctx context.Context, sc *scope.ProjectScope) ([]compiler.Source, error) {
	texts := make(map[string]string)

	if !sc.IsDefault() {
		root := sc.Root()
		nested := make(map[string]bool)
		for _, r := range s.manager.Roots() {
			if r != root && paths.IsWithin(r, root) {
				nested[r] = true
			}
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				return nil
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				if nested[path] || (s.skipDir != nil && s.skipDir(d.Name())) {
					return filepath.SkipDir
				}
				return ctx.Err()
			}
			if !files.IsSourceFile(path) {
				return nil
			}
			uri := paths.FileURI(path)
			if text, ok := s.files.Contents(uri); ok {
				texts[uri] = text
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.DebugContext(ctx, "Skipping unreadable source", "uri", uri, "error", err.Error())
				return nil
			}
			texts[uri] = string(data)
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.WarnContext(ctx, "Source walk failed", "project", root, "error", err.Error())
		}
	}

	// unsaved documents that exist only in the editor
	for _, uri := range s.files.OpenURIs() {
		if _, ok := texts[uri]; ok || !files.IsSourceFile(uri) {
			continue
		}
		if s.manager.FindProjectScope(uri) != sc {
			continue
		}
		if text, ok := s.files.Contents(uri); ok {
			texts[uri] = text
		}
	}

	return sortedSources(texts), nil
}

// readSources reads the current text of uris. Missing files are skipped.
func (s *Service) readSources(uris []string) []compiler.Source {
	texts := make(map[string]string, len(uris))
	for _, u := range uris {
		text, err := s.files.Read(u)
		if err != nil {
			continue
		}
		texts[u] = text
	}
	return sortedSources(texts)
}

// exists reports whether uri is open or present on disk.
func (s *Service) exists(uri string) bool {
	if _, ok := s.files.Contents(uri); ok {
		return true
	}
	p, err := paths.URIToPath(uri)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func sortedSources(texts map[string]string) []compiler.Source {
	out := make([]compiler.Source, 0, len(texts))
	for u, t := range texts {
		out = append(out, compiler.Source{URI: u, Text: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func sourceTexts(sources []compiler.Source) map[string]string {
	m := make(map[string]string, len(sources))
	for _, src := range sources {
		m[src.URI] = src.Text
	}
	return m
}

func sourceURIs(sources []compiler.Source) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = src.URI
	}
	return out
}
