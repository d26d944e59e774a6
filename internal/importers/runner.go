// Package importers implements the Gradle and Maven project importers.
package importers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	glserrors "groovyls/internal/errors"
)

// Runner runs a build tool command in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run executes name with args in dir. A missing binary is reported as
// IMPORTER_UNAVAILABLE, a non-zero exit as RESOLUTION_FAILED with stderr attached.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, glserrors.NewGlsError(glserrors.ImporterUnavailable, name+" not found on PATH", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := time.Now()
	logger.DebugContext(ctx, "Executing build command", "command", name, "args", args, "dir", dir)

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, glserrors.NewGlsError(glserrors.ResolutionFailed, name+" timed out", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, glserrors.NewGlsError(glserrors.ResolutionFailed, name+" failed", err).
				WithDetails(map[string]interface{}{
					"args":   args,
					"stderr": tail(stderr.String(), 4096),
				})
		}
		return nil, glserrors.NewGlsError(glserrors.ResolutionFailed, "failed to execute "+name, err)
	}
	logger.DebugContext(ctx, "Build command finished", "command", name, "duration", time.Since(start).String())
	return out, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
