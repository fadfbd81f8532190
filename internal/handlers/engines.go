package handlers

import (
	"context"

	"github.com/nfrund/chatsync/internal/engine"
)

// Engines hands out sync engines. Each socket is one tab with its own
// engine; stateless requests share one.
type Engines interface {
	Open(ctx context.Context) (*engine.Engine, error)
	Shared() (*engine.Engine, error)
	Release(e *engine.Engine) error
	Len() int
}

// HealthChecker reports backend health.
type HealthChecker interface {
	IsHealthy() bool
}
