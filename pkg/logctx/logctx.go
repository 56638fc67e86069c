package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys shared with the HTTP middleware. They stay plain strings so
// gin.Context.Set and context.WithValue agree on them.
const (
	LoggerKey  = "logger"
	TraceIDKey = "traceID"
)

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(LoggerKey); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	if lg, ok := ctx.Value(LoggerKey).(*zap.SugaredLogger); ok && lg != nil {
		return lg
	}
	if tid, ok := ctx.Value(TraceIDKey).(string); ok && tid != "" {
		return base.With("trace_id", tid)
	}
	return base
}

// WithLogger attaches lg to ctx so code below the HTTP layer (chores,
// services) logs with the same fields.
func WithLogger(ctx context.Context, lg *zap.SugaredLogger) context.Context {
	//nolint:staticcheck // string key shared with gin.Context
	return context.WithValue(ctx, LoggerKey, lg)
}
