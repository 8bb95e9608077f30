// Package requestid propagates request IDs from the HTTP layer into
// service-level contexts and log events.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New generates a fresh request ID.
func New() string {
	return uuid.New().String()
}

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Logger returns base with the context's request ID attached, so log
// lines from nested services correlate with the access log.
func Logger(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return base.With().Str("request_id", id).Logger()
	}
	return base
}
