package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsync/internal/domain"
)

// ViewerContextKey is the echo context key of the signed-in viewer.
const ViewerContextKey = "viewer"

// Identity headers set by the authenticating proxy in front of the gateway.
const (
	HeaderUserID      = "X-User-ID"
	HeaderUserEmail   = "X-User-Email"
	HeaderDisplayName = "X-User-Name"
)

// Identity reads the viewer from the identity headers. Requests without a
// user id continue anonymously.
func Identity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		if id := strings.TrimSpace(h.Get(HeaderUserID)); id != "" {
			c.Set(ViewerContextKey, domain.Identity{
				UserID:      id,
				Email:       strings.TrimSpace(h.Get(HeaderUserEmail)),
				DisplayName: strings.TrimSpace(h.Get(HeaderDisplayName)),
			})
		}
		return next(c)
	}
}

// RequireViewer rejects anonymous requests. It must run after Identity.
func RequireViewer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := ViewerFrom(c); !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "sign in required")
		}
		return next(c)
	}
}

// ViewerFrom returns the viewer stored by Identity.
func ViewerFrom(c echo.Context) (domain.Identity, bool) {
	v, ok := c.Get(ViewerContextKey).(domain.Identity)
	return v, ok
}
