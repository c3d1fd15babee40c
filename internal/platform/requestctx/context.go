package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey  contextKey = "github.com/hanko-field/quickorder/internal/platform/requestctx/logger"
	traceContextKey   contextKey = "github.com/hanko-field/quickorder/internal/platform/requestctx/trace"
	sessionContextKey contextKey = "github.com/hanko-field/quickorder/internal/platform/requestctx/session"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// SessionInfo identifies the browser session and the cart it owns.
type SessionInfo struct {
	SessionID string
	CartID    string
	Locale    string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSession stores the resolved session on the context.
func WithSession(ctx context.Context, info SessionInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey, info)
}

// Session returns the session attached by the session middleware.
func Session(ctx context.Context) (SessionInfo, bool) {
	if ctx == nil {
		return SessionInfo{}, false
	}
	info, ok := ctx.Value(sessionContextKey).(SessionInfo)
	return info, ok
}

// SessionID returns the session identifier or an empty string.
func SessionID(ctx context.Context) string {
	info, _ := Session(ctx)
	return info.SessionID
}
