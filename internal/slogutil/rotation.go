package slogutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationOptions controls size based log rotation.
type RotationOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OpenRotatingFile returns a lumberjack writer for path. The parent
// directory is created if missing.
func OpenRotatingFile(path string, opts RotationOptions) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}, nil
}

// NewFileLoggerWithRotation creates a rotating file logger in the given format.
func NewFileLoggerWithRotation(path, format string, level slog.Level, opts RotationOptions) (*slog.Logger, io.Closer, error) {
	w, err := OpenRotatingFile(path, opts)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(NewHandler(w, format, level)), w, nil
}
