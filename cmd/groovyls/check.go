package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"groovyls/internal/notify"
)

const checkQueueSize = 1 << 16

var (
	checkFormat    string
	checkNoCache   bool
	checkThreshold int
)

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Resolve and compile every project once and print diagnostics",
	Long: `Discover the projects below dir, resolve their classpaths, compile them and
print the resulting diagnostics. Exits with status 2 when errors were found.

Examples:
  groovyls check                 # Check the current directory
  groovyls check ./repo -v       # With progress logging
  groovyls check --format json   # Machine-readable report`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkFormat, "format", "human", "Output format (human, json, yaml)")
	checkCmd.Flags().BoolVar(&checkNoCache, "no-cache", false, "Do not read or write the classpath cache")
	checkCmd.Flags().IntVar(&checkThreshold, "full-recompile-threshold", 25, "Changed files above which a full compile runs")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	start := time.Now()
	format, err := parseFormat(checkFormat)
	if err != nil {
		return err
	}
	root, err := workspaceArg(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd, root, map[string]string{
		"compile.fullRecompileThreshold": "full-recompile-threshold",
	})
	if err != nil {
		return err
	}
	if checkNoCache {
		cfg.Classpath.CacheEnabled = false
	}
	// one-shot runs report nothing periodically
	cfg.Status.MemoryReportSeconds = 0
	cfg.Scopes.EvictionTTLSeconds = 0

	ctx, cancel := signalContext()
	defer cancel()

	rec := notify.NewRecorder()
	// the report reads rec, so nothing may be dropped on the way
	s, err := openSession(ctx, cfg, root, rec, notify.Options{QueueSize: checkQueueSize})
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.ws.ResolveAll(ctx); err != nil {
		return err
	}
	if _, err := s.ws.CompileAll(ctx); err != nil {
		return err
	}
	if err := s.ws.FlushNotifications(ctx); err != nil {
		return err
	}

	report := buildCheckReport(root, s.ws.Status(), rec)
	report.DurationMs = time.Since(start).Milliseconds()
	if err := render(os.Stdout, format, report, func(w io.Writer) error {
		return formatCheckHuman(w, report)
	}); err != nil {
		return err
	}
	if report.Errors > 0 {
		return &exitError{code: 2, msg: fmt.Sprintf("%d errors", report.Errors)}
	}
	return nil
}
