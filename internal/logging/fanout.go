package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout delivers every record to each of its sinks. A failing sink does not
// stop delivery to the others; failures are joined into the returned error.
type Fanout struct {
	sinks []slog.Handler
}

// NewFanout drops nil sinks and returns the combined handler.
func NewFanout(sinks ...slog.Handler) *Fanout {
	f := &Fanout{sinks: make([]slog.Handler, 0, len(sinks))}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len is the number of live sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

func (f *Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (f *Fanout) derive(fn func(slog.Handler) slog.Handler) *Fanout {
	next := &Fanout{sinks: make([]slog.Handler, len(f.sinks))}
	for i, s := range f.sinks {
		next.sinks[i] = fn(s)
	}
	return next
}
