package pubsub

import (
	"context"
	"fmt"
)

// Transport kinds accepted by New.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// Options selects and configures a transport.
type Options struct {
	Transport string // memory|redis
	RedisURL  string
	Tracing   TracingConfig
}

// New builds the configured bridge, wrapped with tracing when enabled. The
// returned cleanup flushes the tracer and must run after the bridge closed.
func New(ctx context.Context, opts Options) (Bridge, func(), error) {
	tracer, cleanup, err := NewTracer(ctx, opts.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("setup tracing: %w", err)
	}

	switch opts.Transport {
	case "", TransportMemory:
		if opts.Tracing.Enabled {
			return NewWatermillBridgeWithTracer(tracer), cleanup, nil
		}
		return NewWatermillBridge(), cleanup, nil
	case TransportRedis:
		rb, err := NewRedisBridge(ctx, opts.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if opts.Tracing.Enabled {
			return WithTracing(rb, tracer, "redis"), cleanup, nil
		}
		return rb, cleanup, nil
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown relay transport %q", opts.Transport)
	}
}
