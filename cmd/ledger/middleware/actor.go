package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ActorKey is the context key for the acting user id
const ActorKey ContextKey = "actor"

// ExtractActor extracts the X-User-ID header into the request context. The
// actor is recorded in mint audit events; identity issuance itself lives in
// an upstream auth service, not here.
func ExtractActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := c.Request().Header.Get("X-User-ID")
			if actor != "" {
				c.Set(string(ActorKey), actor)
			}
			return next(c)
		}
	}
}

// ExtractActorStrict requires the X-User-ID header on every request
func ExtractActorStrict() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := c.Request().Header.Get("X-User-ID")
			if actor == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-User-ID header is required",
				})
			}

			c.Set(string(ActorKey), actor)
			return next(c)
		}
	}
}

// GetActor retrieves the actor from the request context, or "" if unset
func GetActor(c echo.Context) string {
	actor := c.Get(string(ActorKey))
	if actor == nil {
		return ""
	}
	return actor.(string)
}
