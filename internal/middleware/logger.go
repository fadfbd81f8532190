package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

type loggerKey struct{}

// Logger puts a request logger tagged with the request id and, when known,
// the viewer into the request context, and logs every handled request at
// debug level. It runs after RequestID and Identity.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		logger := slog.Default().With("request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		if v, ok := ViewerFrom(c); ok {
			logger = logger.With("viewer_id", v.UserID)
		}
		c.SetRequest(req.WithContext(context.WithValue(req.Context(), loggerKey{}, logger)))

		start := time.Now()
		err := next(c)
		logger.Debug("Request handled",
			"method", req.Method,
			"route", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start),
			"error", err,
		)
		return err
	}
}

// FromContext returns the request logger, or the default logger outside a
// request.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
