package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nfrund/chatsync/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
		{domain.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
		{domain.ErrMessageTooLong, http.StatusBadRequest, "message_too_long"},
		{domain.ErrNoViewer, http.StatusUnauthorized, "no_viewer"},
		{domain.ErrMessagingBlocked, http.StatusForbidden, "blocked"},
		{&domain.DependencyRepairError{UserID: "u1", Err: errors.New("db down")}, http.StatusBadGateway, "profile_unavailable"},
		{fmt.Errorf("%w: timeout", domain.ErrPersistFailure), http.StatusBadGateway, "persist_failed"},
		{domain.ErrScopeClosed, http.StatusServiceUnavailable, "shutting_down"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)

			he := apiError(tt.err)
			assert.Equal(t, tt.status, he.Code)
			assert.Equal(t, ErrorResponse{Code: tt.code, Message: tt.err.Error()}, he.Message)
		})
	}
}

func TestNewMessageResponse_DropsEmptyStyle(t *testing.T) {
	m := domain.ChatMessage{ID: "chat_message:1", SenderID: "u1", Kind: domain.KindText, Style: &domain.StyleOverride{SenderID: "u1"}}
	assert.Nil(t, NewMessageResponse(m).Style)

	m.Style.Font = "mono"
	assert.Equal(t, &StyleResponse{Font: "mono"}, NewMessageResponse(m).Style)
}
