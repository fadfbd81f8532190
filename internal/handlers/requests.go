package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// ScopeQuery selects a scope from the query string: exactly one of
// room_id and stream_id. owner_id names the room host or streamer whose
// block list applies to sends over a socket.
type ScopeQuery struct {
	RoomID   string `query:"room_id" validate:"required_without=StreamID,excluded_with=StreamID,max=128"`
	StreamID string `query:"stream_id" validate:"max=128"`
	OwnerID  string `query:"owner_id" validate:"max=128"`
}

// SendMessageRequest is the body of POST /api/v1/messages. Body length is
// checked by the send pipeline so the limit is counted in runes.
type SendMessageRequest struct {
	RoomID   string `json:"room_id" validate:"required_without=StreamID,excluded_with=StreamID,max=128"`
	StreamID string `json:"stream_id" validate:"max=128"`
	OwnerID  string `json:"owner_id" validate:"max=128"`
	Body     string `json:"body" validate:"required"`
}

// SaveStyleRequest is the body of PUT /api/v1/styles/me. Empty fields reset
// to the default look.
type SaveStyleRequest struct {
	BubbleColor string `json:"bubble_color" validate:"omitempty,hexcolor"`
	Font        string `json:"font" validate:"omitempty,max=64,printascii"`
}

// ClientFrame is a message from a socket client.
type ClientFrame struct {
	Type string `json:"type" validate:"required,oneof=send draft reload"`
	Body string `json:"body"`
}
