package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const payloadPreviewLen = 100

// messagingAttributes are the span attributes shared by publish and process spans.
func messagingAttributes(system, operation, topic, msgID, origin string, payload []byte) []attribute.KeyValue {
	preview := string(payload)
	if len(preview) > payloadPreviewLen {
		preview = preview[:payloadPreviewLen] + "..."
	}
	return []attribute.KeyValue{
		attribute.String("messaging.system", system),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", msgID),
		attribute.String("chatsync.origin", origin),
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
		attribute.String("messaging.message_payload_preview", preview),
	}
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TracingMiddleware creates a watermill middleware that adds OpenTelemetry tracing
// to message processing.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			topic := msg.Metadata.Get(metaKeyTopic)
			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
				trace.WithAttributes(messagingAttributes("watermill", "process", topic, msg.UUID,
					msg.Metadata.Get(metaKeyOrigin), msg.Payload)...),
			)
			defer span.End()

			msg.SetContext(spanCtx)

			produced, err := h(msg)
			if err != nil {
				recordErr(span, err)
				return nil, err
			}
			span.SetAttributes(attribute.Int("messaging.messages_produced", len(produced)))
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware wraps a watermill publisher with tracing capabilities.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with one span per message.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		spanCtx, span := p.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", topic),
			trace.WithAttributes(messagingAttributes("watermill", "publish", topic, msg.UUID,
				msg.Metadata.Get(metaKeyOrigin), msg.Payload)...),
		)
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		if err != nil {
			recordErr(span, err)
		}
		span.End()
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}

// tracedBridge adds spans to any Bridge that has no native middleware.
type tracedBridge struct {
	Bridge
	tracer trace.Tracer
	system string
}

// WithTracing decorates b so publishes and handled messages produce spans.
// system names the transport in the messaging.system attribute.
func WithTracing(b Bridge, tracer trace.Tracer, system string) Bridge {
	return &tracedBridge{Bridge: b, tracer: tracer, system: system}
}

func (t *tracedBridge) Publish(ctx context.Context, msg Message) error {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", msg.Topic),
		trace.WithAttributes(messagingAttributes(t.system, "publish", msg.Topic, "", msg.Origin, msg.Payload)...),
	)
	defer span.End()

	err := t.Bridge.Publish(ctx, msg)
	if err != nil {
		recordErr(span, err)
	}
	return err
}

func (t *tracedBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return t.Bridge.Subscribe(ctx, topic, func(ctx context.Context, msg Message) error {
		ctx, span := t.tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
			trace.WithAttributes(messagingAttributes(t.system, "process", topic, "", msg.Origin, msg.Payload)...),
		)
		defer span.End()

		err := handler(ctx, msg)
		if err != nil {
			recordErr(span, err)
		}
		return err
	})
}
