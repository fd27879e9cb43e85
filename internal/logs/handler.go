package logs

import (
	"context"
	"log/slog"
)

type runKey struct{}

// WithRunID tags every record logged with ctx with the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// Handler adds the run id carried by the context.
type Handler struct {
	slog.Handler
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if v, ok := ctx.Value(runKey{}).(string); ok && v != "" {
		record.AddAttrs(slog.String("run_id", v))
	}
	return h.Handler.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name)}
}
