package importers

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"
)

var groovyJarPattern = regexp.MustCompile(`^groovy(?:-all)?-(\d+\.\d+\.\d+)(?:[-.][A-Za-z0-9.-]*)?\.jar$`)

// VersionFromClasspath returns the highest Groovy version found among the
// classpath's groovy jars, or "".
func VersionFromClasspath(classpath []string) string {
	best := ""
	for _, entry := range classpath {
		m := groovyJarPattern.FindStringSubmatch(filepath.Base(entry))
		if m == nil {
			continue
		}
		if best == "" || semver.Compare("v"+m[1], "v"+best) > 0 {
			best = m[1]
		}
	}
	return best
}

type versionCatalog struct {
	Versions  map[string]interface{}            `toml:"versions"`
	Libraries map[string]map[string]interface{} `toml:"libraries"`
}

// VersionFromCatalog reads the Groovy version from a Gradle version catalog.
// It accepts a [versions] entry named groovy and a [libraries] entry for an
// org.apache.groovy or org.codehaus.groovy module.
func VersionFromCatalog(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var cat versionCatalog
	if err := toml.Unmarshal(data, &cat); err != nil {
		return ""
	}

	if v := catalogString(cat.Versions["groovy"]); v != "" {
		return normalizeVersion(v)
	}
	for _, lib := range cat.Libraries {
		module := catalogString(lib["module"])
		group := catalogString(lib["group"])
		if module == "" && group != "" {
			module = group + ":" + catalogString(lib["name"])
		}
		if !isGroovyModule(module) {
			continue
		}
		switch v := lib["version"].(type) {
		case string:
			return normalizeVersion(v)
		case map[string]interface{}:
			if ref := catalogString(v["ref"]); ref != "" {
				return normalizeVersion(catalogString(cat.Versions[ref]))
			}
			return normalizeVersion(catalogString(v))
		}
	}
	return ""
}

func isGroovyModule(module string) bool {
	return module == "org.apache.groovy:groovy" ||
		module == "org.codehaus.groovy:groovy" ||
		module == "org.codehaus.groovy:groovy-all" ||
		module == "org.apache.groovy:groovy-all"
}

func catalogString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		for _, k := range []string{"strictly", "require", "prefer"} {
			if s, ok := t[k].(string); ok {
				return s
			}
		}
	}
	return ""
}

// normalizeVersion keeps the major.minor.patch core of v if it is valid semver.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	canonical := semver.Canonical("v" + v)
	if canonical == "" {
		return ""
	}
	core := strings.TrimPrefix(canonical, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	return core
}

// hasDependencyJars reports whether the classpath holds at least one jar.
// A classpath of output directories only means the build never resolved
// dependencies.
func hasDependencyJars(classpath []string) bool {
	for _, e := range classpath {
		if strings.HasSuffix(strings.ToLower(e), ".jar") {
			return true
		}
	}
	return false
}
