// Package logging carries a slog logger and request-scoped attributes in the
// context so use cases can log without threading a logger through every call.
package logging

import (
	"context"
	"log/slog"
	"slices"
)

type (
	loggerKey struct{}
	attrsKey  struct{}
)

// WithLogger installs the logger used by Info, Warn and Error for ctx and its
// children. A nil logger leaves ctx unchanged.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithAttrs adds attributes to every record logged through ctx. A key that is
// already present takes the new value.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(attrs) == 0 {
		return ctx
	}
	return context.WithValue(ctx, attrsKey{}, merge(scoped(ctx), attrs))
}

// WithRequestID tags ctx with the id chi's RequestID middleware assigned.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return WithAttrs(ctx, slog.String("request_id", id))
}

func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelInfo, msg, attrs)
}

func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelWarn, msg, attrs)
}

func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelError, msg, attrs)
}

func emit(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok {
		logger = slog.Default()
	}
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, msg, merge(scoped(ctx), attrs)...)
}

func scoped(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	return attrs
}

// merge never writes into base, which may be shared by sibling contexts.
func merge(base, extra []slog.Attr) []slog.Attr {
	out := slices.Clone(base)
	for _, attr := range extra {
		i := slices.IndexFunc(out, func(a slog.Attr) bool { return a.Key != "" && a.Key == attr.Key })
		if i >= 0 {
			out[i] = attr
			continue
		}
		out = append(out, attr)
	}
	return out
}
