package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// redisFrame is the wire form of a Message on a Redis channel.
type redisFrame struct {
	Origin   string            `json:"origin,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// RedisBridge implements Bridge on Redis PUBLISH/SUBSCRIBE. It relays
// between engines in different processes.
type RedisBridge struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBridge connects to redisURL and verifies the connection.
func NewRedisBridge(ctx context.Context, redisURL string) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisBridgeFromClient(client), nil
}

// NewRedisBridgeFromClient wraps an existing client. Close closes it.
func NewRedisBridgeFromClient(client *redis.Client) *RedisBridge {
	return &RedisBridge{
		client: client,
		logger: slog.Default().With("component", "pubsub.redis"),
	}
}

// Publish implements the Publisher interface.
func (rb *RedisBridge) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(redisFrame{Origin: msg.Origin, Metadata: msg.Metadata, Payload: msg.Payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return rb.client.Publish(ctx, msg.Topic, data).Err()
}

// Subscribe implements the Subscriber interface. It returns after Redis
// confirmed the subscription, so no message published afterwards is missed.
func (rb *RedisBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ps := rb.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case rm, ok := <-ch:
				if !ok {
					return
				}
				var frame redisFrame
				if err := json.Unmarshal([]byte(rm.Payload), &frame); err != nil {
					rb.logger.Warn("Dropping undecodable frame", "topic", topic, "error", err)
					continue
				}
				msg := Message{Topic: rm.Channel, Origin: frame.Origin, Payload: frame.Payload, Metadata: frame.Metadata}
				if err := handler(ctx, msg); err != nil {
					rb.logger.Error("Failed to handle message", "topic", topic, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes the Redis client and with it every subscription.
func (rb *RedisBridge) Close() error {
	return rb.client.Close()
}
