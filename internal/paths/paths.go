package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

const (
	// StateDirName is the per-workspace directory holding config, cache and logs.
	StateDirName = ".groovyls"
	configFile   = "config.yaml"
	cacheFile    = "classpath.db"
	logsDirName  = "logs"
	serverLog    = "groovyls.log"
)

// CanonicalizeRoot returns the cleaned absolute form of a project root.
// Symlinks are resolved when the path exists.
func CanonicalizeRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// IsWithin reports whether path equals root or lies below it.
// The check is separator aware: /a/b-c is not within /a/b.
func IsWithin(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// NormalizePath converts backslashes to forward slashes.
func NormalizePath(path string) string {
	return filepath.ToSlash(path)
}

// RelativeTo returns path relative to root with forward slashes.
func RelativeTo(path, root string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// FileURI builds a file:// document identifier for an absolute path.
func FileURI(path string) string {
	return string(uri.File(path))
}

// URIToPath converts a document identifier to a filesystem path.
// Only the file scheme maps to a path.
func URIToPath(docURI string) (path string, err error) {
	if !strings.HasPrefix(docURI, uri.FileScheme+"://") {
		return "", fmt.Errorf("not a file uri: %q", docURI)
	}
	defer func() {
		if r := recover(); r != nil {
			path, err = "", fmt.Errorf("invalid file uri %q: %v", docURI, r)
		}
	}()
	return filepath.Clean(uri.URI(docURI).Filename()), nil
}

// StateDir returns <workspace>/.groovyls
func StateDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, StateDirName)
}

// ConfigPath returns <workspace>/.groovyls/config.yaml
func ConfigPath(workspaceRoot string) string {
	return filepath.Join(StateDir(workspaceRoot), configFile)
}

// ClasspathCachePath returns <workspace>/.groovyls/classpath.db
func ClasspathCachePath(workspaceRoot string) string {
	return filepath.Join(StateDir(workspaceRoot), cacheFile)
}

// ServerLogPath returns <workspace>/.groovyls/logs/groovyls.log
func ServerLogPath(workspaceRoot string) string {
	return filepath.Join(StateDir(workspaceRoot), logsDirName, serverLog)
}

// EnsureStateDir creates <workspace>/.groovyls/logs if needed and returns the state dir.
func EnsureStateDir(workspaceRoot string) (string, error) {
	dir := StateDir(workspaceRoot)
	if err := os.MkdirAll(filepath.Join(dir, logsDirName), 0755); err != nil {
		return "", err
	}
	return dir, nil
}
