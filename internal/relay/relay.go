package relay

import (
	"context"
	"log/slog"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/pubsub"
)

// DefaultTopic is the bus topic envelopes travel on.
const DefaultTopic = "chatsync.relay"

// Handler receives envelopes from other origins.
type Handler func(ctx context.Context, env Envelope)

// Relay publishes and receives envelopes over a pub/sub bridge.
type Relay struct {
	bus    pubsub.Bridge
	event  pubsub.Event[Envelope]
	logger *slog.Logger
}

// New creates a relay on topic (DefaultTopic when empty).
func New(bus pubsub.Bridge, topic string) *Relay {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Relay{
		bus:    bus,
		event:  pubsub.NewEvent[Envelope](topic),
		logger: slog.Default().With("component", "relay"),
	}
}

// Publish sends env to every subscriber sharing the bus.
func (r *Relay) Publish(ctx context.Context, env Envelope) error {
	if env.V == 0 {
		env.V = Version
	}
	if err := pubsub.Publish(ctx, r.bus, r.event, env.Origin, env); err != nil {
		return err
	}
	metrics.Inc(metrics.RelayEnvelopes, "published")
	return nil
}

// Subscribe delivers envelopes to handler until ctx is canceled. Envelopes
// published by origin itself are skipped, and so are envelopes of an
// unknown version.
func (r *Relay) Subscribe(ctx context.Context, origin string, handler Handler) error {
	return pubsub.Subscribe(ctx, r.bus, r.event, func(ctx context.Context, env Envelope) error {
		if env.Origin == origin {
			metrics.Inc(metrics.RelayEnvelopes, "skipped")
			return nil
		}
		if env.V != Version {
			metrics.Inc(metrics.RelayEnvelopes, "dropped")
			r.logger.Warn("Dropping relay envelope of unknown version", "version", env.V, "type", env.Type, "origin", env.Origin)
			return nil
		}
		metrics.Inc(metrics.RelayEnvelopes, "received")
		handler(ctx, env)
		return nil
	})
}

// StyleBroadcaster publishes style changes on behalf of one origin.
type StyleBroadcaster struct {
	relay  *Relay
	origin string
}

// StyleBroadcaster returns a broadcaster tagging envelopes with origin.
func (r *Relay) StyleBroadcaster(origin string) *StyleBroadcaster {
	return &StyleBroadcaster{relay: r, origin: origin}
}

// BroadcastStyle publishes a style_changed envelope.
func (b *StyleBroadcaster) BroadcastStyle(ctx context.Context, style domain.StyleOverride) error {
	env, err := StyleChangedEnvelope(b.origin, style)
	if err != nil {
		return err
	}
	return b.relay.Publish(ctx, env)
}
