package importers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"groovyls/internal/classpath"
)

// Maven imports projects built by Maven. Each module resolves on its own.
type Maven struct {
	Command string
	Runner  Runner
	Logger  *slog.Logger
}

var _ classpath.ProjectImporter = (*Maven)(nil)

// NewMaven creates a Maven importer running command through runner.
func NewMaven(command string, runner Runner, logger *slog.Logger) *Maven {
	if command == "" {
		command = "mvn"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Maven{Command: command, Runner: runner, Logger: logger}
}

func (m *Maven) Name() string { return "maven" }

// DiscoverProjects returns every directory with a pom.xml.
func (m *Maven) DiscoverProjects(ctx context.Context, workspaceRoot string) ([]string, error) {
	return findProjects(ctx, workspaceRoot, "pom.xml")
}

func (m *Maven) ClaimsProject(root string) bool {
	return fileExists(filepath.Join(root, "pom.xml"))
}

func (m *Maven) IsProjectFile(path string) bool {
	return filepath.Base(path) == "pom.xml"
}

func (m *Maven) command(root string) string {
	if p := filepath.Join(root, "mvnw"); fileExists(p) {
		return p
	}
	return m.Command
}

// ResolveClasspath writes the test-scope dependency classpath to a temp file
// and appends the module's output directories.
func (m *Maven) ResolveClasspath(ctx context.Context, root string) ([]string, error) {
	return m.resolve(ctx, root)
}

func (m *Maven) resolve(ctx context.Context, root string, goals ...string) ([]string, error) {
	outFile, err := os.CreateTemp("", "groovyls-cp-*.txt")
	if err != nil {
		return nil, err
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	args := []string{"-q", "-B", "-f", filepath.Join(root, "pom.xml")}
	args = append(args, goals...)
	args = append(args,
		"dependency:build-classpath",
		"-Dmdep.includeScope=test",
		"-Dmdep.outputFile="+outPath,
	)
	if _, err := m.Runner.Run(ctx, root, m.command(root), args...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}
	entries := parseMavenClasspath(string(data))
	entries = append(entries,
		filepath.Join(root, "target", "classes"),
		filepath.Join(root, "target", "test-classes"),
	)
	return entries, nil
}

// ImportProject compiles root and then resolves its classpath.
func (m *Maven) ImportProject(ctx context.Context, root string) ([]string, error) {
	return m.resolve(ctx, root, "test-compile")
}

func (m *Maven) Recompile(ctx context.Context, root string) error {
	_, err := m.Runner.Run(ctx, root, m.command(root), "-q", "-B", "-f", filepath.Join(root, "pom.xml"), "compile")
	return err
}

func (m *Maven) DetectProjectGroovyVersion(_ string, cp []string) string {
	return VersionFromClasspath(cp)
}

func (m *Maven) ShouldMarkClasspathResolved(root string, cp []string) bool {
	if !hasDependencyJars(cp) {
		m.Logger.Debug("Maven classpath has no dependency jars", "project", root, "entries", len(cp))
		return false
	}
	return true
}

func parseMavenClasspath(s string) []string {
	var out []string
	for _, e := range strings.Split(strings.TrimSpace(s), string(os.PathListSeparator)) {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
