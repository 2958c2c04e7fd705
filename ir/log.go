package ir

import (
	"context"
	"log/slog"
)

// slogValue wraps a Value as a slog.LogValuer so instruction trees are only
// rendered when a record actually gets emitted
func slogValue(v Value) slog.LogValuer { return valueLogValuer{v} }

type valueLogValuer struct{ Value }

func (l valueLogValuer) LogValue() slog.Value {
	return slog.StringValue(l.Value.String())
}

// SlogHandler returns a slog.Handler capable of lazy-printing IR values
func SlogHandler(underlying slog.Handler) slog.Handler {
	return &valueLogHandler{underlying: underlying}
}

type valueLogHandler struct {
	underlying slog.Handler
}

func (l *valueLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return l.underlying.Enabled(ctx, level)
}

func (l *valueLogHandler) Handle(ctx context.Context, record slog.Record) error {
	newRecord := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Value.Kind() == slog.KindAny {
			if value, ok := attr.Value.Any().(Value); ok {
				newRecord.Add(attr.Key, slogValue(value))
				return true
			}
		}
		newRecord.Add(attr)
		return true
	})
	return l.underlying.Handle(ctx, newRecord)
}

func (l *valueLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	for i, attr := range attrs {
		if attr.Value.Kind() == slog.KindAny {
			if value, ok := attr.Value.Any().(Value); ok {
				attr.Value = slog.AnyValue(slogValue(value))
			}
			attrs[i] = attr
		}
	}
	return SlogHandler(l.underlying.WithAttrs(attrs))
}

func (l *valueLogHandler) WithGroup(name string) slog.Handler {
	return SlogHandler(l.underlying.WithGroup(name))
}
