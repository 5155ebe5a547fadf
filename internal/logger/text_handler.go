package logger

import (
	"io"
	"log/slog"
	"time"
)

// newTextHandler returns a human-readable console handler. Timestamps are
// dropped; the TRACE level gets its own label instead of "DEBUG-4".
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			if t, ok := a.Value.Any().(time.Time); ok && tz != nil {
				return slog.Time(a.Key, t.In(tz))
			}
			return a
		},
	}
	return slog.NewTextHandler(w, opts)
}
