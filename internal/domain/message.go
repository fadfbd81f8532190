package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nfrund/chatsync/internal/scope"
)

// MaxBodyLength is the maximum number of runes in a message body.
const MaxBodyLength = 500

// MessageKind distinguishes user text from system notices.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// ChatMessage is one posted message as seen by the UI.
type ChatMessage struct {
	// ID is the server record id once confirmed, or a temporary token
	// (see IsTemporaryID) while the message is an optimistic echo.
	ID       string      `json:"id"`
	ScopeKey scope.Key   `json:"scopeKey"`
	SenderID string      `json:"senderId,omitempty"` // empty for system messages
	Kind     MessageKind `json:"kind"`
	Body     string      `json:"body"`
	// CreatedAt is server-assigned on confirmation and client-assigned for
	// the optimistic copy.
	CreatedAt time.Time `json:"createdAt"`
	// Style is resolved from the style cache for display. It is never
	// persisted with the message.
	Style   *StyleOverride `json:"style,omitempty"`
	Pending bool           `json:"pending,omitempty"`
}

// TemporaryIDPrefix marks locally generated ids. Server ids are SurrealDB
// record ids ("chat_message:...") and never carry it.
const TemporaryIDPrefix = "tmp_"

// IsTemporaryID reports whether id was generated locally for an optimistic echo.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

// IsSystem reports whether the message has no human sender.
func (m ChatMessage) IsSystem() bool {
	return m.Kind == KindSystem || m.SenderID == ""
}

// NormalizeBody trims the body and checks it against the length bound.
func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", ErrMessageTooLong
	}
	return body, nil
}
