package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/middleware"
)

// StyleHandler serves the viewer's own display style.
type StyleHandler struct {
	engines Engines
}

// NewStyleHandler creates a StyleHandler.
func NewStyleHandler(engines Engines) *StyleHandler {
	return &StyleHandler{engines: engines}
}

// SaveMine handles PUT /api/v1/styles/me.
func (h *StyleHandler) SaveMine(c echo.Context) error {
	var req SaveStyleRequest
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
	style := domain.StyleOverride{SenderID: viewer.UserID, BubbleColor: req.BubbleColor, Font: req.Font}
	if err := e.SaveStyle(c.Request().Context(), style); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, ErrorResponse{Code: "style_failed", Message: err.Error()}).SetInternal(err)
	}
	return c.JSON(http.StatusOK, StyleResponse{BubbleColor: style.BubbleColor, Font: style.Font})
}
