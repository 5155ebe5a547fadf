package logger

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler passes each record to every output whose level admits it.
// Console and file outputs keep independent levels this way.
type fanoutHandler []slog.Handler

// newFanoutHandler drops nil outputs. A single output is returned as is.
func newFanoutHandler(outputs ...slog.Handler) slog.Handler {
	var h fanoutHandler
	for _, o := range outputs {
		if o != nil {
			h = append(h, o)
		}
	}
	if len(h) == 1 {
		return h[0]
	}
	return h
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, o := range h {
		if o.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler passes the record by value
func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, o := range h {
		if !o.Enabled(ctx, record.Level) {
			continue
		}
		if err := o.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(o slog.Handler) slog.Handler { return o.WithAttrs(attrs) })
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	return h.each(func(o slog.Handler) slog.Handler { return o.WithGroup(name) })
}

func (h fanoutHandler) each(fn func(slog.Handler) slog.Handler) fanoutHandler {
	out := make(fanoutHandler, len(h))
	for i, o := range h {
		out[i] = fn(o)
	}
	return out
}
