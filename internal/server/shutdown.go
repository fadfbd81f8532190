package server

import (
	"context"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Shutdown stops accepting connections and waits for in-flight requests.
// Open sockets end when their engines close.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.E.Shutdown(ctx)
}
