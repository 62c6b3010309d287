package logger

import (
	"context"
	"errors"
	"log/slog"
)

// splitHandler fans records out to several handlers. Each handler keeps its
// own level, so a verbose log file can sit next to a quieter terminal.
type splitHandler struct {
	handlers []slog.Handler
}

func (s splitHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, handler := range s.handlers {
		if handler.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (s splitHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range s.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(s.handlers))
	for i, handler := range s.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return splitHandler{handlers: next}
}

func (s splitHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(s.handlers))
	for i, handler := range s.handlers {
		next[i] = handler.WithGroup(name)
	}
	return splitHandler{handlers: next}
}

func NewSplitHandler(handler ...slog.Handler) slog.Handler {
	return splitHandler{handlers: handler}
}
