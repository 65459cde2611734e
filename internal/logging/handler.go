package logging

import (
	"context"
	"errors"
	"log/slog"
)

// ContextProvider returns attributes that change while the simulator runs,
// such as the active run id or the vehicle count.
type ContextProvider func() []slog.Attr

// fanout sends every record to each sink that accepts its level.
// A failing sink does not stop the others; their errors are joined.
type fanout []slog.Handler

func newFanout(sinks ...slog.Handler) fanout {
	f := make(fanout, 0, len(sinks))
	for _, h := range sinks {
		if h != nil {
			f = append(f, h)
		}
	}
	return f
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// stamped appends the provider's attributes to every record.
type stamped struct {
	slog.Handler
	provider ContextProvider
}

func (s stamped) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(s.provider()...)
	return s.Handler.Handle(ctx, r)
}

func (s stamped) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stamped{Handler: s.Handler.WithAttrs(attrs), provider: s.provider}
}

func (s stamped) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return stamped{Handler: s.Handler.WithGroup(name), provider: s.provider}
}
