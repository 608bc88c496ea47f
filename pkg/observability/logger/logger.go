package logger

import (
	"context"
)

// Logger is the structured logger used across tabular. Every log method takes a message
// followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the query id stored in ctx, if any.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{ name string }

var queryIDKey = &contextKey{"query_id"}

// ContextWithQueryID returns a copy of ctx that carries id for log correlation.
func ContextWithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey, id)
}

// QueryIDFromContext returns the query id stored by ContextWithQueryID, or "".
func QueryIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(queryIDKey).(string)
	return id
}

type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)                  {}
func (nopLogger) Info(string, ...any)                   {}
func (nopLogger) Warn(string, ...any)                   {}
func (nopLogger) Error(string, ...any)                  {}
func (n nopLogger) With(...any) Logger                  { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
