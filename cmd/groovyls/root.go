package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"groovyls/internal/classpath"
	"groovyls/internal/classpathcache"
	"groovyls/internal/compiler"
	"groovyls/internal/config"
	"groovyls/internal/executor"
	"groovyls/internal/importers"
	"groovyls/internal/notify"
	"groovyls/internal/paths"
	"groovyls/internal/slogutil"
	"groovyls/internal/version"
	"groovyls/internal/workspace"
)

var (
	verbosity int
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "groovyls",
	Short: "groovyls - Groovy workspace compilation backend",
	Long: `groovyls discovers the Gradle and Maven projects of a workspace, resolves each
project's classpath once in the background and compiles the sources of every
project with the right classpath, reporting diagnostics as files change.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("groovyls {{.Version}}\n")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// workspaceArg returns the canonical workspace root named by args, or the
// working directory.
func workspaceArg(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	root, err := paths.CanonicalizeRoot(dir)
	if err != nil {
		return "", fmt.Errorf("invalid workspace %q: %w", dir, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return "", fmt.Errorf("workspace %q is not a directory", root)
	}
	return root, nil
}

// loadConfig reads <root>/.groovyls/config.yaml with flags of cmd bound on top.
func loadConfig(cmd *cobra.Command, root string, bindings map[string]string) (*config.Config, *viper.Viper, error) {
	v := config.NewViper(root)
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, err
			}
		}
	}
	cfg, err := config.LoadFromViper(v, root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, v, nil
}

// session is one opened workspace with its logger and cache.
type session struct {
	ws      *workspace.Workspace
	cache   *classpathcache.Store
	factory *slogutil.LoggerFactory
	logger  *slog.Logger
}

func openSession(ctx context.Context, cfg *config.Config, root string, sink notify.Sink, notifyOpts notify.Options) (*session, error) {
	if _, err := paths.EnsureStateDir(root); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	var console io.Writer
	if !quiet {
		console = os.Stderr
	}
	var cliLevel *slog.Level
	if quiet || verbosity > 0 {
		lvl := slogutil.LevelFromVerbosity(verbosity, quiet)
		cliLevel = &lvl
	}
	factory := slogutil.NewLoggerFactory(cfg, cliLevel, executor.ProjectFromContext)
	logger := factory.ServerLogger(console)

	s := &session{factory: factory, logger: logger}

	var cache classpath.Cache
	if cfg.Classpath.CacheEnabled {
		store, err := classpathcache.Open(cfg.Classpath.CachePath, logger)
		if err != nil {
			logger.Warn("Classpath cache unavailable, resolving without it", "path", cfg.Classpath.CachePath, "error", err.Error())
		} else {
			s.cache = store
			cache = store
		}
	}

	imps, err := importers.FromConfig(cfg.Classpath, nil, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	if !compiler.IsAvailable() {
		logger.Warn("Built without tree-sitter, diagnostics are limited")
	}

	s.ws = workspace.New(cfg, workspace.Deps{
		Importers: imps,
		Cache:     cache,
		Backend:   compiler.NewTreeSitterBackend(),
		Sink:      sink,
		Notify:    notifyOpts,
	}, logger)

	if _, err := s.ws.Open(ctx, root); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s.ws != nil {
		if err := s.ws.Shutdown(); err != nil {
			s.logger.Warn("Shutdown incomplete", "error", err.Error())
		}
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	_ = s.factory.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
