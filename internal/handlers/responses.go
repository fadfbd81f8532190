package handlers

import (
	"time"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/engine"
	"github.com/nfrund/chatsync/internal/scope"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StyleResponse is a sender's display style.
type StyleResponse struct {
	BubbleColor string `json:"bubble_color,omitempty"`
	Font        string `json:"font,omitempty"`
}

// MessageResponse is the DTO for one chat message.
type MessageResponse struct {
	ID        string         `json:"id"`
	Scope     scope.Key      `json:"scope"`
	SenderID  string         `json:"sender_id,omitempty"`
	Kind      string         `json:"kind"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"created_at"`
	Pending   bool           `json:"pending,omitempty"`
	Style     *StyleResponse `json:"style,omitempty"`
}

// NewMessageResponse creates a MessageResponse from a domain message.
func NewMessageResponse(m domain.ChatMessage) MessageResponse {
	out := MessageResponse{
		ID:        m.ID,
		Scope:     m.ScopeKey,
		SenderID:  m.SenderID,
		Kind:      string(m.Kind),
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		Pending:   m.Pending,
	}
	if m.Style != nil && (m.Style.BubbleColor != "" || m.Style.Font != "") {
		out.Style = &StyleResponse{BubbleColor: m.Style.BubbleColor, Font: m.Style.Font}
	}
	return out
}

// NewMessageList converts messages, keeping their order.
func NewMessageList(msgs []domain.ChatMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageResponse(m))
	}
	return out
}

// MessagesResponse is the body of GET /api/v1/messages.
type MessagesResponse struct {
	Scope    scope.Key         `json:"scope"`
	Messages []MessageResponse `json:"messages"`
}

// ServerFrame is a message to a socket client.
type ServerFrame struct {
	Type      string            `json:"type"` // snapshot|sent|error
	Scope     scope.Key         `json:"scope,omitempty"`
	Version   uint64            `json:"version,omitempty"`
	Live      bool              `json:"live,omitempty"`
	LoadError string            `json:"load_error,omitempty"`
	Draft     string            `json:"draft,omitempty"`
	Messages  []MessageResponse `json:"messages,omitempty"`
	Message   *MessageResponse  `json:"message,omitempty"`
	Error     *ErrorResponse    `json:"error,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string        `json:"status"`
	Database bool          `json:"database"`
	Engines  int           `json:"engines"`
	Shared   *engine.Stats `json:"shared,omitempty"`
}
