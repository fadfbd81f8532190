package database

import (
	"context"
	"time"
)

type timeoutKey int

const (
	queryTimeoutKey timeoutKey = iota
	executeTimeoutKey
)

// WithQueryTimeout overrides the read timeout for queries run with ctx.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, queryTimeoutKey, d)
}

// WithExecuteTimeout overrides the write timeout for statements run with ctx.
func WithExecuteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, executeTimeoutKey, d)
}

// withTimeout bounds ctx by the override stored under key, or by def.
func withTimeout(ctx context.Context, def time.Duration, key timeoutKey) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d, ok := ctx.Value(key).(time.Duration); ok && d > 0 {
		def = d
	}
	return context.WithTimeout(ctx, def)
}
