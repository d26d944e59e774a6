package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"groovyls/internal/classpathcache"
	"groovyls/internal/notify"
	"groovyls/internal/workspace"
)

var (
	statusFormat  string
	statusResolve bool
)

var statusCmd = &cobra.Command{
	Use:   "status [dir]",
	Short: "Show discovered projects and their classpath state",
	Long: `Discover the projects below dir and report their resolution and compilation
state together with the classpath cache contents.

Examples:
  groovyls status                 # Discovery only
  groovyls status --resolve       # Resolve classpaths first
  groovyls status --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (human, json, yaml)")
	statusCmd.Flags().BoolVar(&statusResolve, "resolve", false, "Resolve every project before reporting")
	rootCmd.AddCommand(statusCmd)
}

// StatusReport describes a workspace.
type StatusReport struct {
	Workspace string                    `json:"workspace" yaml:"workspace"`
	Projects  []workspace.ProjectStatus `json:"projects" yaml:"projects"`
	Cache     *CacheStatus              `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// CacheStatus describes the classpath cache of a workspace.
type CacheStatus struct {
	Path string `json:"path" yaml:"path"`

	classpathcache.Stats `yaml:",inline"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(statusFormat)
	if err != nil {
		return err
	}
	root, err := workspaceArg(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd, root, nil)
	if err != nil {
		return err
	}
	cfg.Status.MemoryReportSeconds = 0
	cfg.Scopes.EvictionTTLSeconds = 0

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, cfg, root, notify.Discard{}, notify.Options{})
	if err != nil {
		return err
	}
	defer s.close()

	if statusResolve {
		if err := s.ws.ResolveAll(ctx); err != nil {
			return err
		}
	}

	report := &StatusReport{Workspace: root, Projects: s.ws.Status()}
	if s.cache != nil {
		st, err := s.cache.Stats(ctx, root)
		if err != nil {
			s.logger.Warn("Could not read cache stats", "error", err.Error())
		}
		report.Cache = &CacheStatus{Path: s.cache.Path(), Stats: st}
	}
	return render(os.Stdout, format, report, func(w io.Writer) error {
		return formatStatusHuman(w, report)
	})
}
