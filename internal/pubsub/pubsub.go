// Package pubsub is the transport under the cross-tab broadcast relay. An
// in-process Watermill GoChannel serves engines sharing one process and a
// Redis bridge relays between processes through the backend.
package pubsub

import "context"

// Message is one frame on the bus. Payload is opaque to the transport.
type Message struct {
	Topic string
	// Origin names the engine or handle that published the message so
	// subscribers can skip their own echoes.
	Origin   string
	Payload  []byte
	Metadata map[string]string
}

// Handler processes one delivered message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages.
type Subscriber interface {
	// Subscribe starts delivering messages of topic to handler in the
	// background and returns once the subscription is active. Delivery
	// stops when ctx is canceled. Messages are handled one at a time in
	// publish order.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bridge both publishes and subscribes.
type Bridge interface {
	Publisher
	Subscriber
}
