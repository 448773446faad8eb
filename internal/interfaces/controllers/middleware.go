package controllers

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/treservi/notify-engine/pkg/client"
)

// APIKeyMiddleware rejects requests whose X-API-Key header does not match key.
// An empty key leaves the routes open.
func APIKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if key == "" {
			return next
		}
		return func(ctx echo.Context) error {
			provided := ctx.Request().Header.Get(client.APIKeyHeader)
			if provided == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "API key required")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "invalid API key")
			}
			return next(ctx)
		}
	}
}
