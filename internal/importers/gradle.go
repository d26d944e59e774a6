package importers

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"groovyls/internal/classpath"
)

const gradleClasspathTask = "groovylsClasspath"

const gradleLinePrefix = "GROOVYLS_CP "

// gradleInitScript registers a task in every project that prints its compile
// and test classpaths plus source set outputs, one entry per line.
const gradleInitScript = `allprojects {
    tasks.register('groovylsClasspath') {
        doLast {
            def entries = new LinkedHashSet()
            ['compileClasspath', 'testCompileClasspath'].each { name ->
                def conf = project.configurations.findByName(name)
                if (conf != null && conf.canBeResolved) {
                    entries.addAll(conf.resolve())
                }
            }
            def sourceSets = project.extensions.findByName('sourceSets')
            if (sourceSets != null) {
                sourceSets.each { ss -> entries.addAll(ss.output.classesDirs.files) }
            }
            entries.each { println 'GROOVYLS_CP ' + project.projectDir + '|' + it }
        }
    }
}
`

var (
	gradleBuildFiles    = []string{"build.gradle", "build.gradle.kts"}
	gradleSettingsFiles = []string{"settings.gradle", "settings.gradle.kts"}
)

// Gradle imports projects built by Gradle. Sibling subprojects of one
// multi-project build resolve in a single invocation.
type Gradle struct {
	// Command is used when the build has no gradlew wrapper.
	Command string
	Runner  Runner
	Logger  *slog.Logger
}

var _ classpath.BatchImporter = (*Gradle)(nil)

// NewGradle creates a Gradle importer running command through runner.
func NewGradle(command string, runner Runner, logger *slog.Logger) *Gradle {
	if command == "" {
		command = "gradle"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gradle{Command: command, Runner: runner, Logger: logger}
}

func (g *Gradle) Name() string { return "gradle" }

// DiscoverProjects returns every directory with a Gradle build script.
func (g *Gradle) DiscoverProjects(ctx context.Context, workspaceRoot string) ([]string, error) {
	return findProjects(ctx, workspaceRoot, gradleBuildFiles...)
}

func (g *Gradle) ClaimsProject(root string) bool {
	return hasAny(root, gradleBuildFiles...)
}

func (g *Gradle) IsProjectFile(path string) bool {
	base := filepath.Base(path)
	switch base {
	case "build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts", "gradle.properties":
		return true
	case "libs.versions.toml":
		return filepath.Base(filepath.Dir(path)) == "gradle"
	}
	return false
}

// BuildRoot returns the nearest directory at or above root that holds a
// settings script, or root itself.
func (g *Gradle) BuildRoot(root string) string {
	dir := filepath.Clean(root)
	for {
		if hasAny(dir, gradleSettingsFiles...) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(root)
		}
		dir = parent
	}
}

func (g *Gradle) SupportsSiblingBatching() bool { return true }

func (g *Gradle) command(buildRoot string) string {
	wrapper := "gradlew"
	if runtime.GOOS == "windows" {
		wrapper = "gradlew.bat"
	}
	if p := filepath.Join(buildRoot, wrapper); fileExists(p) {
		return p
	}
	return g.Command
}

// run executes tasks for the project at dir with the classpath init script.
func (g *Gradle) run(ctx context.Context, dir string, tasks ...string) ([]byte, error) {
	script, err := os.CreateTemp("", "groovyls-init-*.gradle")
	if err != nil {
		return nil, err
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(gradleInitScript); err != nil {
		script.Close()
		return nil, err
	}
	if err := script.Close(); err != nil {
		return nil, err
	}

	args := append([]string{"-q", "--console=plain", "-I", script.Name(), "-p", dir}, tasks...)
	return g.Runner.Run(ctx, dir, g.command(g.BuildRoot(dir)), args...)
}

// ResolveClasspath runs the classpath task for root alone.
func (g *Gradle) ResolveClasspath(ctx context.Context, root string) ([]string, error) {
	out, err := g.run(ctx, root, gradleClasspathTask)
	if err != nil {
		return nil, err
	}
	return parseGradleClasspaths(out)[filepath.Clean(root)], nil
}

// ResolveClasspaths runs the classpath task once from the shared build root.
func (g *Gradle) ResolveClasspaths(ctx context.Context, roots []string) (map[string][]string, error) {
	if len(roots) == 0 {
		return map[string][]string{}, nil
	}
	out, err := g.run(ctx, g.BuildRoot(roots[0]), gradleClasspathTask)
	if err != nil {
		return nil, err
	}
	all := parseGradleClasspaths(out)
	result := make(map[string][]string, len(roots))
	for _, r := range roots {
		if entries, ok := all[filepath.Clean(r)]; ok {
			result[r] = entries
		}
	}
	return result, nil
}

// ImportProject compiles root and then resolves its classpath.
func (g *Gradle) ImportProject(ctx context.Context, root string) ([]string, error) {
	out, err := g.run(ctx, root, "classes", "testClasses", gradleClasspathTask)
	if err != nil {
		return nil, err
	}
	return parseGradleClasspaths(out)[filepath.Clean(root)], nil
}

func (g *Gradle) Recompile(ctx context.Context, root string) error {
	_, err := g.Runner.Run(ctx, root, g.command(g.BuildRoot(root)), "-q", "--console=plain", "-p", root, "classes")
	return err
}

// DetectProjectGroovyVersion prefers the groovy jar on the classpath and
// falls back to the build's version catalog.
func (g *Gradle) DetectProjectGroovyVersion(root string, cp []string) string {
	if v := VersionFromClasspath(cp); v != "" {
		return v
	}
	for _, dir := range []string{root, g.BuildRoot(root)} {
		if v := VersionFromCatalog(filepath.Join(dir, "gradle", "libs.versions.toml")); v != "" {
			return v
		}
	}
	return ""
}

func (g *Gradle) ShouldMarkClasspathResolved(root string, cp []string) bool {
	if !hasDependencyJars(cp) {
		g.Logger.Debug("Gradle classpath has only output directories", "project", root, "entries", len(cp))
		return false
	}
	return true
}

// parseGradleClasspaths groups the init script's output lines by project dir.
func parseGradleClasspaths(out []byte) map[string][]string {
	result := make(map[string][]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, gradleLinePrefix) {
			continue
		}
		dir, entry, ok := strings.Cut(strings.TrimPrefix(line, gradleLinePrefix), "|")
		if !ok || entry == "" {
			continue
		}
		dir = filepath.Clean(dir)
		result[dir] = append(result[dir], entry)
	}
	return result
}
