package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsync/internal/domain"
)

// apiError maps engine errors to HTTP errors carrying an ErrorResponse.
func apiError(err error) *echo.HTTPError {
	status, code := classify(err)
	return echo.NewHTTPError(status, ErrorResponse{Code: code, Message: err.Error()}).SetInternal(err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidScope):
		return http.StatusBadRequest, "invalid_scope"
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, domain.ErrMessageTooLong):
		return http.StatusBadRequest, "message_too_long"
	case errors.Is(err, domain.ErrNoViewer):
		return http.StatusUnauthorized, "no_viewer"
	case errors.Is(err, domain.ErrMessagingBlocked):
		return http.StatusForbidden, "blocked"
	case errors.Is(err, domain.ErrDependencyRepair):
		return http.StatusBadGateway, "profile_unavailable"
	case errors.Is(err, domain.ErrPersistFailure):
		return http.StatusBadGateway, "persist_failed"
	case errors.Is(err, domain.ErrScopeClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// frameError is the socket form of an engine error.
func frameError(err error) *ErrorResponse {
	_, code := classify(err)
	return &ErrorResponse{Code: code, Message: err.Error()}
}
