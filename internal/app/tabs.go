package app

import (
	"context"
	"errors"
	"sync"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/engine"
)

// Tabs creates engines that share the process's repositories and relay bus.
// Each WebSocket connection is one tab, and HTTP requests share a single
// long-lived engine.
type Tabs struct {
	deps engine.Dependencies
	opts []engine.Option

	mu     sync.Mutex
	open   map[*engine.Engine]struct{}
	shared *engine.Engine
	closed bool
}

// NewTabs creates a factory building engines from deps and opts.
func NewTabs(deps engine.Dependencies, opts ...engine.Option) *Tabs {
	return &Tabs{deps: deps, opts: opts, open: make(map[*engine.Engine]struct{})}
}

// Open creates an engine. It lives until Release, Close, or until ctx is
// canceled.
func (t *Tabs) Open(ctx context.Context) (*engine.Engine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, domain.ErrScopeClosed
	}
	e, err := engine.New(ctx, t.deps, t.opts...)
	if err != nil {
		return nil, err
	}
	t.open[e] = struct{}{}
	return e, nil
}

// Shared returns the engine used by stateless HTTP requests, creating it on
// first use.
func (t *Tabs) Shared() (*engine.Engine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, domain.ErrScopeClosed
	}
	if t.shared == nil {
		e, err := engine.New(context.Background(), t.deps, t.opts...)
		if err != nil {
			return nil, err
		}
		t.shared = e
	}
	return t.shared, nil
}

// Release closes an engine returned by Open.
func (t *Tabs) Release(e *engine.Engine) error {
	t.mu.Lock()
	delete(t.open, e)
	t.mu.Unlock()
	return e.Close()
}

// Len reports how many engines are open, the shared one included.
func (t *Tabs) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.open)
	if t.shared != nil {
		n++
	}
	return n
}

// Close closes every engine. Open fails afterwards.
func (t *Tabs) Close() error {
	t.mu.Lock()
	t.closed = true
	engines := make([]*engine.Engine, 0, len(t.open)+1)
	for e := range t.open {
		engines = append(engines, e)
	}
	if t.shared != nil {
		engines = append(engines, t.shared)
	}
	t.open = make(map[*engine.Engine]struct{})
	t.shared = nil
	t.mu.Unlock()

	var errs []error
	for _, e := range engines {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}
