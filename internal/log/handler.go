package log

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// consoleMutes counts active MuteConsole calls. While it is above zero the
// console handler receives nothing.
var consoleMutes atomic.Int32

// MuteConsole stops mirroring records to the console handler until the
// returned function is called. Calls nest. The interactive chat host mutes
// the console while it owns the terminal.
func MuteConsole() (restore func()) {
	consoleMutes.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { consoleMutes.Add(-1) })
	}
}

func consoleMuted() bool {
	return consoleMutes.Load() > 0
}

// NewDualHandler sends records to primary and mirrors error records to
// secondary. Either handler may be nil.
func NewDualHandler(primary slog.Handler, secondary slog.Handler) slog.Handler {
	return &dualHandler{
		primary:   primary,
		secondary: secondary,
		mirrorAt:  slog.LevelError,
	}
}

type dualHandler struct {
	primary   slog.Handler
	secondary slog.Handler
	mirrorAt  slog.Level
}

func (h *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.primary != nil && h.primary.Enabled(ctx, level) {
		return true
	}
	return h.mirrors(level) && h.secondary.Enabled(ctx, level)
}

func (h *dualHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.primary != nil && h.primary.Enabled(ctx, record.Level) {
		if err := h.primary.Handle(ctx, record); err != nil {
			return err
		}
	}

	if h.mirrors(record.Level) && h.secondary.Enabled(ctx, record.Level) {
		return h.secondary.Handle(ctx, record.Clone())
	}
	return nil
}

func (h *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(
		func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

func (h *dualHandler) WithGroup(name string) slog.Handler {
	return h.derive(
		func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *dualHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := &dualHandler{mirrorAt: h.mirrorAt}
	if h.primary != nil {
		next.primary = fn(h.primary)
	}
	if h.secondary != nil {
		next.secondary = fn(h.secondary)
	}
	return next
}

func (h *dualHandler) mirrors(level slog.Level) bool {
	return h.secondary != nil && level >= h.mirrorAt && !consoleMuted()
}
