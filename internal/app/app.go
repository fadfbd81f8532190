// Package app assembles the process: configuration, the relay bus, the
// database repositories and the engine factory, held in a samber/do
// container.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/do/v2"

	"github.com/nfrund/chatsync/internal/config"
	"github.com/nfrund/chatsync/internal/database"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/relay"
)

type closer struct {
	name string
	fn   func(context.Context) error
}

// App is the service container of one chatsync process.
type App struct {
	Config   *config.Config
	injector *do.RootScope

	mu      sync.Mutex
	closers []closer
}

// New creates the container. Nothing connects until a service is first
// requested; ctx bounds those connections and the services' lifetime.
func New(ctx context.Context, cfg *config.Config) *App {
	metrics.Init()
	a := &App{Config: cfg, injector: do.New()}
	a.register(ctx)
	return a
}

// Connection returns the database connection, connecting on first use.
func (a *App) Connection() (*database.Connection, error) {
	return do.Invoke[*database.Connection](a.injector)
}

// Relay returns the cross-tab relay.
func (a *App) Relay() (*relay.Relay, error) {
	return do.Invoke[*relay.Relay](a.injector)
}

// Messages returns the message repository.
func (a *App) Messages() (*database.MessageStore, error) {
	return do.Invoke[*database.MessageStore](a.injector)
}

// Tabs returns the engine factory.
func (a *App) Tabs() (*Tabs, error) {
	return do.Invoke[*Tabs](a.injector)
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.mu.Lock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
	a.mu.Unlock()
}

// Close releases every service built so far, newest first.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			slog.Warn("Failed to close service", "service", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
