package app

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/nfrund/chatsync/internal/config"
	"github.com/nfrund/chatsync/internal/database"
	"github.com/nfrund/chatsync/internal/engine"
	"github.com/nfrund/chatsync/internal/pubsub"
	"github.com/nfrund/chatsync/internal/relay"
)

// maxPollInterval caps the backoff of scopes polling for a lost push
// subscription.
const maxPollInterval = 30 * time.Second

// register declares every service of the process. Providers are lazy: a
// service is built the first time something invokes it, so commands that
// only need the database never open the relay bus and the other way round.
func (a *App) register(ctx context.Context) {
	do.ProvideValue(a.injector, a.Config)
	do.Provide(a.injector, a.provideBus(ctx))
	do.Provide(a.injector, provideRelay)
	do.Provide(a.injector, a.provideConnection(ctx))
	do.Provide(a.injector, a.provideLiveQueries)
	do.Provide(a.injector, provideMessages)
	do.Provide(a.injector, provideStyles)
	do.Provide(a.injector, provideProfiles)
	do.Provide(a.injector, provideBlocks)
	do.Provide(a.injector, provideEngineDeps)
	do.Provide(a.injector, a.provideTabs)
}

func (a *App) provideBus(ctx context.Context) do.Provider[pubsub.Bridge] {
	return func(i do.Injector) (pubsub.Bridge, error) {
		cfg, err := do.Invoke[*config.Config](i)
		if err != nil {
			return nil, err
		}
		bus, flush, err := pubsub.New(ctx, pubsub.Options{
			Transport: cfg.Relay,
			RedisURL:  cfg.RedisURL,
			Tracing: pubsub.TracingConfig{
				Enabled:     cfg.TracingEnabled,
				ServiceName: cfg.TracingServiceName,
				ZipkinURL:   cfg.TracingZipkinURL,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("relay bus: %w", err)
		}
		a.onClose("relay bus", func(context.Context) error {
			err := bus.Close()
			flush()
			return err
		})
		return bus, nil
	}
}

func provideRelay(i do.Injector) (*relay.Relay, error) {
	cfg, err := do.Invoke[*config.Config](i)
	if err != nil {
		return nil, err
	}
	bus, err := do.Invoke[pubsub.Bridge](i)
	if err != nil {
		return nil, err
	}
	return relay.New(bus, cfg.RelayTopic), nil
}

func (a *App) provideConnection(ctx context.Context) do.Provider[*database.Connection] {
	return func(i do.Injector) (*database.Connection, error) {
		cfg, err := do.Invoke[*config.Config](i)
		if err != nil {
			return nil, err
		}
		conn := database.NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		conn.StartMonitoring()
		a.onClose("database", conn.Close)
		return conn, nil
	}
}

func (a *App) provideLiveQueries(i do.Injector) (*database.LiveQueryService, error) {
	conn, err := do.Invoke[*database.Connection](i)
	if err != nil {
		return nil, err
	}
	live := database.NewLiveQueryService(conn)
	a.onClose("live queries", func(context.Context) error {
		live.Close()
		return nil
	})
	return live, nil
}

func provideMessages(i do.Injector) (*database.MessageStore, error) {
	conn, err := do.Invoke[*database.Connection](i)
	if err != nil {
		return nil, err
	}
	live, err := do.Invoke[*database.LiveQueryService](i)
	if err != nil {
		return nil, err
	}
	return database.NewMessageStore(conn, live), nil
}

func provideStyles(i do.Injector) (*database.StyleStore, error) {
	conn, err := do.Invoke[*database.Connection](i)
	if err != nil {
		return nil, err
	}
	live, err := do.Invoke[*database.LiveQueryService](i)
	if err != nil {
		return nil, err
	}
	return database.NewStyleStore(conn, live), nil
}

func provideProfiles(i do.Injector) (*database.ProfileStore, error) {
	conn, err := do.Invoke[*database.Connection](i)
	if err != nil {
		return nil, err
	}
	return database.NewProfileStore(conn), nil
}

func provideBlocks(i do.Injector) (*database.BlockStore, error) {
	conn, err := do.Invoke[*database.Connection](i)
	if err != nil {
		return nil, err
	}
	return database.NewBlockStore(conn), nil
}

func provideEngineDeps(i do.Injector) (engine.Dependencies, error) {
	messages, err := do.Invoke[*database.MessageStore](i)
	if err != nil {
		return engine.Dependencies{}, err
	}
	styles, err := do.Invoke[*database.StyleStore](i)
	if err != nil {
		return engine.Dependencies{}, err
	}
	profiles, err := do.Invoke[*database.ProfileStore](i)
	if err != nil {
		return engine.Dependencies{}, err
	}
	blocks, err := do.Invoke[*database.BlockStore](i)
	if err != nil {
		return engine.Dependencies{}, err
	}
	r, err := do.Invoke[*relay.Relay](i)
	if err != nil {
		return engine.Dependencies{}, err
	}
	return engine.Dependencies{
		Messages: messages,
		Inserts:  messages,
		Styles:   styles,
		Profiles: profiles,
		Blocks:   blocks,
		Relay:    r,
	}, nil
}

func (a *App) provideTabs(i do.Injector) (*Tabs, error) {
	cfg, err := do.Invoke[*config.Config](i)
	if err != nil {
		return nil, err
	}
	deps, err := do.Invoke[engine.Dependencies](i)
	if err != nil {
		return nil, err
	}
	tabs := NewTabs(deps, EngineOptions(cfg)...)
	a.onClose("engines", func(context.Context) error { return tabs.Close() })
	return tabs, nil
}

// EngineOptions translates the configuration into engine options.
func EngineOptions(cfg *config.Config) []engine.Option {
	return []engine.Option{
		engine.WithReconcileWindow(cfg.ReconcileWindow),
		engine.WithStyleFreshness(cfg.StyleFreshness),
		engine.WithHistoryLimit(cfg.HistoryLimit),
		engine.WithPollInterval(cfg.PollInterval, maxPollInterval),
	}
}
