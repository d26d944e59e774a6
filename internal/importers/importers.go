package importers

import (
	"fmt"
	"log/slog"

	"groovyls/internal/classpath"
	"groovyls/internal/config"
)

// FromConfig builds the enabled importers in configured order.
func FromConfig(cfg config.ClasspathConfig, runner Runner, logger *slog.Logger) ([]classpath.ProjectImporter, error) {
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	var out []classpath.ProjectImporter
	for _, name := range cfg.EnabledImporters {
		switch name {
		case "gradle":
			out = append(out, NewGradle(cfg.GradleCommand, runner, logger))
		case "maven":
			out = append(out, NewMaven(cfg.MavenCommand, runner, logger))
		default:
			return nil, fmt.Errorf("unknown importer %q", name)
		}
	}
	return out, nil
}
