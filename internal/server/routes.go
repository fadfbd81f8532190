package server

import "github.com/nfrund/chatsync/internal/middleware"

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	api := s.E.Group("/api/v1")
	api.GET("/messages", s.messages.List)
	api.POST("/messages", s.messages.Send, middleware.RequireViewer)
	api.PUT("/styles/me", s.styles.SaveMine, middleware.RequireViewer)

	s.E.GET("/ws", s.sockets.Serve)
	s.E.GET("/healthz", s.health.Get)
	s.E.GET("/metrics", s.metrics)
}
