package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsync/internal/engine"
	"github.com/nfrund/chatsync/internal/middleware"
)

// MessageHandler serves the message history and send endpoints.
type MessageHandler struct {
	engines Engines
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(engines Engines) *MessageHandler {
	return &MessageHandler{engines: engines}
}

// List handles GET /api/v1/messages. Anonymous viewers see every sender.
func (h *MessageHandler) List(c echo.Context) error {
	var req ScopeQuery
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query").SetInternal(err)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}

	e, err := h.engines.Shared()
	if err != nil {
		return apiError(err)
	}
	viewer, _ := middleware.ViewerFrom(c)
	handle, err := e.OpenScope(c.Request().Context(), engine.OpenRequest{
		RoomID:   req.RoomID,
		StreamID: req.StreamID,
		Viewer:   viewer,
	})
	if err != nil {
		return apiError(err)
	}
	defer handle.Close()

	if err := handle.LoadErr(); err != nil {
		middleware.FromContext(c.Request().Context()).Warn("History unavailable", "scope", handle.Key(), "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, ErrorResponse{Code: "history_unavailable", Message: err.Error()}).SetInternal(err)
	}
	return c.JSON(http.StatusOK, MessagesResponse{
		Scope:    handle.Key(),
		Messages: NewMessageList(handle.Messages()),
	})
}

// Send handles POST /api/v1/messages for the signed-in viewer.
func (h *MessageHandler) Send(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	viewer, ok := middleware.ViewerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign in required")
	}

	e, err := h.engines.Shared()
	if err != nil {
		return apiError(err)
	}
	ctx := c.Request().Context()
	handle, err := e.OpenScope(ctx, engine.OpenRequest{
		RoomID:   req.RoomID,
		StreamID: req.StreamID,
		Viewer:   viewer,
		OwnerID:  req.OwnerID,
	})
	if err != nil {
		return apiError(err)
	}
	defer handle.Close()

	row, err := handle.Send(ctx, req.Body)
	if err != nil {
		middleware.FromContext(ctx).Info("Send rejected", "scope", handle.Key(), "error", err)
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, NewMessageResponse(row))
}
