package importers

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

var skipDirs = map[string]bool{
	".git":         true,
	".gradle":      true,
	".groovyls":    true,
	".idea":        true,
	"build":        true,
	"node_modules": true,
	"out":          true,
	"target":       true,
}

// SkipDir reports whether a directory with this base name is never searched
// for projects or sources.
func SkipDir(name string) bool {
	return skipDirs[name]
}

// findProjects walks workspaceRoot and returns every directory holding one of
// the marker files.
func findProjects(ctx context.Context, workspaceRoot string, markers ...string) ([]string, error) {
	var roots []string
	err := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == workspaceRoot {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			return nil
		}
		if path != workspaceRoot && SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if hasAny(path, markers...) {
			roots = append(roots, filepath.Clean(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(roots)
	return roots, nil
}

func hasAny(dir string, names ...string) bool {
	for _, n := range names {
		if fileExists(filepath.Join(dir, n)) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
