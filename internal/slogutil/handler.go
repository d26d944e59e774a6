// Package slogutil provides slog handlers and logger construction for the language server.
package slogutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LineHandler writes one line per record:
//
//	2026-01-02T15:04:05Z warn  <project> Message | key=value key=value
//
// The project segment is present only when the record or the logger carries
// a ProjectKey attribute.
type LineHandler struct {
	out     *lineOutput
	level   slog.Leveler
	prefix  string // group path applied to attribute keys
	project string
	bound   string // pre-rendered attributes from WithAttrs
}

type lineOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineHandler creates a line-oriented handler. A nil opts logs at info.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{out: &lineOutput{w: w}, level: level}
}

func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	project := h.project
	var sb strings.Builder
	sb.WriteString(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ProjectKey && h.prefix == "" {
			project = a.Value.String()
			return true
		}
		h.appendAttr(&sb, a)
		return true
	})

	line := make([]byte, 0, 96+len(r.Message)+sb.Len())
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	line = t.UTC().AppendFormat(line, time.RFC3339)
	line = append(line, ' ')
	line = append(line, levelLabel(r.Level)...)
	if project != "" {
		line = append(line, " <"...)
		line = append(line, project...)
		line = append(line, '>')
	}
	line = append(line, ' ')
	line = append(line, r.Message...)
	if sb.Len() > 0 {
		line = append(line, " |"...)
		line = append(line, sb.String()...)
	}
	line = append(line, '\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(line)
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	var sb strings.Builder
	sb.WriteString(h.bound)
	for _, a := range attrs {
		if a.Key == ProjectKey && h.prefix == "" {
			next.project = a.Value.String()
			continue
		}
		h.appendAttr(&sb, a)
	}
	next.bound = sb.String()
	return &next
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *LineHandler) appendAttr(sb *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := &LineHandler{prefix: h.prefix + a.Key + "."}
		if a.Key == "" {
			inner.prefix = h.prefix
		}
		for _, ga := range a.Value.Group() {
			inner.appendAttr(sb, ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(h.prefix)
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(formatValue(a.Value))
}

// levelLabel pads level names to a fixed width so messages line up.
func levelLabel(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info "
	case level < slog.LevelError:
		return "warn "
	default:
		return "error"
	}
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n=\"") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return strconv.Quote(err.Error())
		}
	}
	return fmt.Sprint(v.Any())
}
