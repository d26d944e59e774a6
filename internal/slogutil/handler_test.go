package slogutil

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLineHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("Classpath resolved", "entries", 42, "importer", "gradle", "took", 1500*time.Millisecond)

	line := strings.TrimSuffix(buf.String(), "\n")
	fields := strings.SplitN(line, " ", 2)
	if _, err := time.Parse(time.RFC3339, fields[0]); err != nil {
		t.Fatalf("line should start with an RFC3339 timestamp: %q", line)
	}
	want := "info  Classpath resolved | entries=42 importer=gradle took=1.5s"
	if fields[1] != want {
		t.Errorf("got %q, want %q", fields[1], want)
	}
}

func TestLineHandlerLevels(t *testing.T) {
	tests := []struct {
		level slog.Level
		label string
	}{
		{slog.LevelDebug, " debug "},
		{slog.LevelInfo, " info  "},
		{slog.LevelWarn, " warn  "},
		{slog.LevelError, " error "},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.label), func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, slog.LevelDebug).Log(context.Background(), tt.level, "msg")
			if !strings.Contains(buf.String(), tt.label) {
				t.Errorf("expected %q in %q", tt.label, buf.String())
			}
		})
	}
}

func TestLineHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("records below warn should be filtered: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn and error should be kept: %s", out)
	}
}

func TestLineHandlerProjectSegment(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).With(ProjectKey, "/ws/app")

	logger.Info("Compiling", "files", 3)
	logger.Info("Compiling", ProjectKey, "/ws/lib")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "info  </ws/app> Compiling | files=3") {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "</ws/lib> Compiling") || strings.Contains(lines[1], "project=") {
		t.Errorf("record attribute should replace the bound project: %q", lines[1])
	}
}

func TestLineHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).WithGroup("pool").With("name", "compile")

	logger.Info("Rejected", slog.Group("queue", "len", 8))

	if !strings.Contains(buf.String(), "| pool.name=compile pool.queue.len=8") {
		t.Errorf("group prefixes not applied: %s", buf.String())
	}
}

func TestLineHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("Importer failed", "reason", "exit status 1", "empty", "", "error", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{`reason="exit status 1"`, `empty=""`, `error="boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LevelFromString(tt.input); got != tt.expected {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		expected  slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{0, true, LevelSilent},
		{5, true, LevelSilent},
	}

	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.quiet); got != tt.expected {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v", tt.verbosity, tt.quiet, got, tt.expected)
		}
	}
}

func TestTeeHandler(t *testing.T) {
	var info, warn bytes.Buffer
	logger := slog.New(NewTeeHandler(
		NewLineHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		NewLineHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	))
	logger.Info("resolving")
	logger.Warn("importer missing")

	if !strings.Contains(info.String(), "resolving") || !strings.Contains(info.String(), "importer missing") {
		t.Errorf("info sink should receive both: %s", info.String())
	}
	if strings.Contains(warn.String(), "resolving") || !strings.Contains(warn.String(), "importer missing") {
		t.Errorf("warn sink should receive only the warning: %s", warn.String())
	}
}
