package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
)

// Reserved watermill metadata keys carrying Message fields.
const (
	metaKeyOrigin = "origin"
	metaKeyTopic  = "topic"
)

// relayBuffer bounds how far a slow tab may fall behind before publishers
// block on it.
const relayBuffer = 64

// WatermillBridge is the in-process Bridge: a watermill GoChannel shared by
// every engine of one process.
type WatermillBridge struct {
	channel *gochannel.GoChannel
	pub     message.Publisher
	wrap    func(message.HandlerFunc) message.HandlerFunc
}

// NewWatermillBridge creates an untraced in-process bridge. Publish returns
// once every subscriber has handled the message, so a handler must not
// publish on the same bridge synchronously.
func NewWatermillBridge() *WatermillBridge {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            relayBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewStdLogger(false, false))
	return &WatermillBridge{channel: ch, pub: ch}
}

// NewWatermillBridgeWithTracer traces every publish and every handled
// message with tracer.
func NewWatermillBridgeWithTracer(tracer trace.Tracer) *WatermillBridge {
	b := NewWatermillBridge()
	b.pub = NewPublisherTracingMiddleware(b.pub, tracer)
	b.wrap = TracingMiddleware(tracer)
	return b
}

func toWatermill(ctx context.Context, msg Message) *message.Message {
	out := message.NewMessage(watermill.NewUUID(), msg.Payload)
	out.SetContext(ctx)
	for k, v := range msg.Metadata {
		out.Metadata.Set(k, v)
	}
	out.Metadata.Set(metaKeyOrigin, msg.Origin)
	out.Metadata.Set(metaKeyTopic, msg.Topic)
	return out
}

// fromWatermill lifts the reserved keys into fields. The origin also stays
// visible in Metadata.
func fromWatermill(in *message.Message) Message {
	msg := Message{
		Topic:    in.Metadata.Get(metaKeyTopic),
		Origin:   in.Metadata.Get(metaKeyOrigin),
		Payload:  in.Payload,
		Metadata: make(map[string]string, len(in.Metadata)),
	}
	for k, v := range in.Metadata {
		if k == metaKeyTopic || (k == metaKeyOrigin && v == "") {
			continue
		}
		msg.Metadata[k] = v
	}
	return msg
}

func (b *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return b.pub.Publish(msg.Topic, toWatermill(ctx, msg))
}

func (b *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	in, err := b.channel.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	handle := func(m *message.Message) ([]*message.Message, error) {
		return nil, handler(m.Context(), fromWatermill(m))
	}
	if b.wrap != nil {
		handle = b.wrap(handle)
	}

	go func() {
		for m := range in {
			if _, err := handle(m); err != nil {
				slog.Error("Relay handler failed", "topic", topic, "msg_id", m.UUID, "error", err)
			}
			// A nacked message is redelivered by GoChannel until acked, and
			// relay envelopes are not retryable.
			m.Ack()
		}
		slog.Debug("Relay subscription ended", "topic", topic)
	}()
	return nil
}

// Close stops every subscription.
func (b *WatermillBridge) Close() error {
	return b.channel.Close()
}
