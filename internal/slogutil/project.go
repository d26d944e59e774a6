package slogutil

import (
	"context"
	"log/slog"
)

// ProjectKey is the attribute key carrying the owning project root.
const ProjectKey = "project"

// ProjectExtractor returns the project root attached to ctx, or "".
type ProjectExtractor func(ctx context.Context) string

// ProjectHandler decorates records with the project root carried by the
// record's context. Records that already name a project are left alone.
type ProjectHandler struct {
	inner   slog.Handler
	extract ProjectExtractor
	bound   bool
}

// NewProjectHandler wraps inner so every record logged with a project
// context gets a project=<root> attribute.
func NewProjectHandler(inner slog.Handler, extract ProjectExtractor) *ProjectHandler {
	return &ProjectHandler{inner: inner, extract: extract}
}

func (h *ProjectHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ProjectHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.bound || h.extract == nil || ctx == nil {
		return h.inner.Handle(ctx, r)
	}
	root := h.extract(ctx)
	if root == "" {
		return h.inner.Handle(ctx, r)
	}
	present := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ProjectKey {
			present = true
			return false
		}
		return true
	})
	if !present {
		r = r.Clone()
		r.AddAttrs(slog.String(ProjectKey, root))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ProjectHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := h.bound
	for _, a := range attrs {
		if a.Key == ProjectKey {
			bound = true
		}
	}
	return &ProjectHandler{inner: h.inner.WithAttrs(attrs), extract: h.extract, bound: bound}
}

func (h *ProjectHandler) WithGroup(name string) slog.Handler {
	return &ProjectHandler{inner: h.inner.WithGroup(name), extract: h.extract, bound: h.bound}
}
