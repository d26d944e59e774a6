package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"groovyls/internal/metrics"
	"groovyls/internal/notify"
)

var (
	watchFormat      string
	watchMetricsAddr string
	watchDebounceMs  int
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Compile continuously and print diagnostics as files change",
	Long: `Resolve and compile every project below dir, then watch the tree. Source
edits are recompiled incrementally; build file edits resolve the project again.

Examples:
  groovyls watch                         # Watch the current directory
  groovyls watch --format json           # One JSON notification per line
  groovyls watch --metrics-addr :9464    # Serve prometheus metrics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchFormat, "format", "human", "Output format (human, json)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Address for the /metrics endpoint (empty disables)")
	watchCmd.Flags().IntVar(&watchDebounceMs, "debounce-ms", 300, "Quiet period before a changed project recompiles")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := workspaceArg(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd, root, map[string]string{
		"metrics.addr":       "metrics-addr",
		"compile.debounceMs": "debounce-ms",
	})
	if err != nil {
		return err
	}

	var sink notify.Sink
	switch watchFormat {
	case "json":
		sink = notify.NewJSONLinesSink(os.Stdout)
	case "human":
		sink = notify.NewTextSink(os.Stdout, verbosity > 0)
	default:
		return errors.New("unsupported format: " + watchFormat)
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, cfg, root, sink, notify.DefaultOptions())
	if err != nil {
		return err
	}
	defer s.close()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server failed", "addr", cfg.Metrics.Addr, "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		s.logger.Info("Serving metrics", "addr", cfg.Metrics.Addr)
	}

	if err := s.ws.Watch(ctx); err != nil {
		return err
	}
	if err := s.ws.ResolveAll(ctx); err != nil {
		return nil // interrupted
	}
	if _, err := s.ws.CompileAll(ctx); err != nil {
		return nil
	}
	s.logger.Info("Watching for changes", "workspace", root)

	<-ctx.Done()
	s.logger.Info("Stopping")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
