package slogutil

import (
	"io"
	"log/slog"

	"groovyls/internal/config"
)

// LoggerFactory creates configured loggers for the server and the CLI.
// Precedence: CLI flags > config file > default.
type LoggerFactory struct {
	config   *config.Config
	cliLevel *slog.Level
	extract  ProjectExtractor
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory. A nil cliLevel defers to
// the configured level.
func NewLoggerFactory(cfg *config.Config, cliLevel *slog.Level, extract ProjectExtractor) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		config:   cfg,
		cliLevel: cliLevel,
		extract:  extract,
	}
}

// ServerLogger returns a logger writing to the configured rotating log file
// and, when console is non-nil, also to console. Records are tagged with the
// project root found in their context.
func (f *LoggerFactory) ServerLogger(console io.Writer) *slog.Logger {
	level := f.effectiveLevel()
	var handlers []slog.Handler

	if f.config.Logging.File != "" {
		w, err := OpenRotatingFile(f.config.Logging.File, RotationOptions{
			MaxSizeMB:  f.config.Logging.MaxSizeMB,
			MaxBackups: f.config.Logging.MaxBackups,
			MaxAgeDays: f.config.Logging.MaxAgeDays,
			Compress:   f.config.Logging.Compress,
		})
		if err == nil {
			f.closers = append(f.closers, w)
			handlers = append(handlers, NewHandler(w, f.config.Logging.Format, level))
		}
	}
	if console != nil {
		handlers = append(handlers, NewLineHandler(console, &slog.HandlerOptions{Level: level}))
	}
	if len(handlers) == 0 {
		return NewDiscardLogger()
	}

	var h slog.Handler = NewTeeHandler(handlers...)
	if len(handlers) == 1 {
		h = handlers[0]
	}
	return slog.New(NewProjectHandler(h, f.extract))
}

// effectiveLevel returns the CLI level when set, else the configured level.
func (f *LoggerFactory) effectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
