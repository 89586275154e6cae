package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets response headers for the browser UI and the JSON
// endpoints. The page may open a websocket back to its own origin but may
// not be framed.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			// patient data must not be cached
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
