package gateway

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"fintrack/internal/log"
)

// ContextKey type for context keys
type ContextKey string

// RequestIDKey is the context key for a caller supplied request ID
const RequestIDKey ContextKey = "request_id"

// WithRequestID makes every exchange issued under ctx carry id in
// X-Request-ID instead of a freshly generated one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func requestID(ctx context.Context) string {
	if id := GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// logExchange records one completed HTTP exchange. The level follows the
// status: 4xx warn, 5xx and transport errors error.
func (g *Gateway) logExchange(ctx context.Context, x *exchange, err error) {
	level := slog.LevelDebug
	switch {
	case err != nil || x.status >= 500:
		level = slog.LevelError
	case x.status >= 400:
		level = slog.LevelWarn
	}

	fields := log.NewFields().
		WithRequestID(x.requestID).
		WithRequest(x.method, x.path, x.query).
		WithResponse(x.status, x.elapsed.Milliseconds()).
		WithError(err)
	fields[log.FieldRetried] = x.retried

	g.logger.Log(ctx, level, "API request completed", fields.ToSlice()...)
}
