// Package relay propagates "message sent" and "style changed" events to
// sibling engines and handles so they stay in sync without a reload.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
)

// Version is the envelope format this package writes and accepts.
const Version = 1

// EventType names the kind of envelope.
type EventType string

const (
	TypeNewMessage   EventType = "new_message"
	TypeStyleChanged EventType = "style_changed"
)

// ErrInsufficientPayload means a new_message envelope cannot be reconciled
// from its payload alone; the receiver should reload the scope.
var ErrInsufficientPayload = errors.New("relay: payload is insufficient")

// Envelope is the wire format of one relay event.
type Envelope struct {
	V       int             `json:"v"`
	Type    EventType       `json:"type"`
	Origin  string          `json:"origin"`
	Scope   scope.Key       `json:"scope,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessagePayload carries the persisted row.
type NewMessagePayload struct {
	Message *domain.ChatMessage `json:"message,omitempty"`
}

// StyleChangedPayload carries a saved override. A nil Style means the
// sender reset to the default.
type StyleChangedPayload struct {
	SenderID string                `json:"senderId"`
	Style    *domain.StyleOverride `json:"style,omitempty"`
}

// NewMessageEnvelope wraps a persisted message.
func NewMessageEnvelope(origin string, msg domain.ChatMessage) (Envelope, error) {
	msg.Style = nil
	msg.Pending = false
	payload, err := json.Marshal(NewMessagePayload{Message: &msg})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode new_message: %w", err)
	}
	return Envelope{V: Version, Type: TypeNewMessage, Origin: origin, Scope: msg.ScopeKey, Payload: payload}, nil
}

// StyleChangedEnvelope wraps a saved style override.
func StyleChangedEnvelope(origin string, style domain.StyleOverride) (Envelope, error) {
	payload, err := json.Marshal(StyleChangedPayload{SenderID: style.SenderID, Style: &style})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode style_changed: %w", err)
	}
	return Envelope{V: Version, Type: TypeStyleChanged, Origin: origin, Payload: payload}, nil
}

// Message decodes a new_message payload. It returns ErrInsufficientPayload
// when the embedded row lacks what reconciliation needs.
func (e Envelope) Message() (domain.ChatMessage, error) {
	if e.Type != TypeNewMessage {
		return domain.ChatMessage{}, fmt.Errorf("relay: %s is not %s", e.Type, TypeNewMessage)
	}
	var p NewMessagePayload
	if len(e.Payload) == 0 {
		return domain.ChatMessage{}, ErrInsufficientPayload
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %v", ErrInsufficientPayload, err)
	}
	m := p.Message
	if m == nil || m.ID == "" || domain.IsTemporaryID(m.ID) || m.CreatedAt.IsZero() {
		return domain.ChatMessage{}, ErrInsufficientPayload
	}
	if m.ScopeKey == "" {
		m.ScopeKey = e.Scope
	}
	if m.ScopeKey != e.Scope {
		return domain.ChatMessage{}, ErrInsufficientPayload
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	return *m, nil
}

// StyleChange decodes a style_changed payload.
func (e Envelope) StyleChange() (StyleChangedPayload, error) {
	var p StyleChangedPayload
	if e.Type != TypeStyleChanged {
		return p, fmt.Errorf("relay: %s is not %s", e.Type, TypeStyleChanged)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode style_changed: %w", err)
	}
	if p.SenderID == "" {
		return p, errors.New("relay: style_changed without sender")
	}
	return p, nil
}
