package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports liveness of the gateway and its database.
type HealthHandler struct {
	engines Engines
	db      HealthChecker
}

// NewHealthHandler creates a HealthHandler. db may be nil.
func NewHealthHandler(engines Engines, db HealthChecker) *HealthHandler {
	return &HealthHandler{engines: engines, db: db}
}

// Get handles GET /healthz.
func (h *HealthHandler) Get(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Database: h.db == nil || h.db.IsHealthy(), Engines: h.engines.Len()}
	if e, err := h.engines.Shared(); err == nil {
		stats := e.Stats()
		resp.Shared = &stats
	}
	if !resp.Database {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
