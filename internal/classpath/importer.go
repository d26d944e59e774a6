// Package classpath resolves each project's compile classpath once per
// registration, asynchronously, through pluggable build-tool importers.
package classpath

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
)

// ProjectImporter integrates one build tool.
type ProjectImporter interface {
	// Name identifies the importer in config and logs ("gradle", "maven").
	Name() string
	// DiscoverProjects returns the project roots below workspaceRoot.
	DiscoverProjects(ctx context.Context, workspaceRoot string) ([]string, error)
	// ClaimsProject reports whether root is built by this tool.
	ClaimsProject(root string) bool
	// ResolveClasspath returns root's compile classpath without building.
	ResolveClasspath(ctx context.Context, root string) ([]string, error)
	// ImportProject builds root as needed and returns its classpath.
	ImportProject(ctx context.Context, root string) ([]string, error)
	// DetectProjectGroovyVersion returns the Groovy version or "".
	DetectProjectGroovyVersion(root string, classpath []string) string
	// ShouldMarkClasspathResolved can veto a structurally present but
	// incomplete classpath.
	ShouldMarkClasspathResolved(root string, classpath []string) bool
	// Recompile rebuilds root's outputs.
	Recompile(ctx context.Context, root string) error
	// IsProjectFile reports whether path is a build file of this tool.
	IsProjectFile(path string) bool
}

// BatchImporter resolves several projects in one tool invocation.
type BatchImporter interface {
	ProjectImporter
	ResolveClasspaths(ctx context.Context, roots []string) (map[string][]string, error)
	SupportsSiblingBatching() bool
	// BuildRoot returns the root of the build that contains project root.
	// Projects sharing a build root are siblings.
	BuildRoot(root string) string
}

// CachedProject is one persisted resolution.
type CachedProject struct {
	Entries         []string
	LanguageVersion string
	BuildFileHash   string
}

// Cache persists resolved classpaths per workspace.
type Cache interface {
	Get(ctx context.Context, workspaceRoot, projectRoot string) (CachedProject, bool, error)
	Put(ctx context.Context, workspaceRoot, projectRoot string, p CachedProject) error
	// SyncTopology records the discovered roots and drops every entry of the
	// workspace when they differ from the stored ones.
	SyncTopology(ctx context.Context, workspaceRoot string, roots []string) (invalidated bool, err error)
	InvalidateProject(ctx context.Context, workspaceRoot, projectRoot string) error
	Clear(ctx context.Context, workspaceRoot string) error
}

// HashBuildFiles hashes the names and contents of the build files directly
// inside root and inside root/gradle.
func HashBuildFiles(root string, isProjectFile func(string) bool) string {
	var files []string
	for _, dir := range []string{root, filepath.Join(root, "gradle")} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if isProjectFile(p) {
				files = append(files, p)
			}
		}
	}
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(root, f)
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
