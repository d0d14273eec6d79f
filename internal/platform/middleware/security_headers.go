package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiHeaders suit a JSON-only API whose bodies carry patient billing data:
// nothing may be framed, sniffed, referred onward or cached.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, kv := range apiHeaders {
				c.Response().Header().Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
