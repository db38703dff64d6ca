package logging

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey int

const (
	passIDKey contextKey = iota
	loggerKey
)

// WithPassIDCtx returns a new context carrying the vacuum pass ID.
func WithPassIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passIDKey, id)
}

// PassIDFromCtx extracts the pass ID from the context.
func PassIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(passIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns a logger from the context. If none is found, returns
// the global logger tagged with the context's pass ID.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}

	l := Global()
	if id := PassIDFromCtx(ctx); id != "" {
		l = l.WithCorrelationID(id)
	}
	return l
}
