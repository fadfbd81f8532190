// Package server is the HTTP and WebSocket gateway in front of the sync
// engines.
package server

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nfrund/chatsync/internal/handlers"
	"github.com/nfrund/chatsync/internal/middleware"
)

// Options configures a Server.
type Options struct {
	Engines handlers.Engines
	// Health is optional; without it the database counts as healthy.
	Health handlers.HealthChecker
	// AllowedOrigins are WebSocket origin patterns besides the server's own.
	AllowedOrigins []string
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E *echo.Echo

	messages *handlers.MessageHandler
	styles   *handlers.StyleHandler
	sockets  *handlers.SocketHandler
	health   *handlers.HealthHandler
	metrics  echo.HandlerFunc
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()

	// Request metrics live in their own registry so several servers can
	// coexist in one process; /metrics serves it next to the engine's.
	reg := prometheus.NewRegistry()
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.Identity)
	e.Use(middleware.Logger)
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "chatsync_http",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/ws"
		},
	}))

	s := &Server{
		E:        e,
		messages: handlers.NewMessageHandler(opts.Engines),
		styles:   handlers.NewStyleHandler(opts.Engines),
		sockets:  handlers.NewSocketHandler(opts.Engines, opts.AllowedOrigins),
		health:   handlers.NewHealthHandler(opts.Engines, opts.Health),
		metrics: echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		}),
	}
	s.RegisterRoutes()
	return s
}
