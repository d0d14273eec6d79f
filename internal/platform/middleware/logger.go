package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			evt := logger.Info()
			if err != nil {
				status = statusFromError(err)
				evt = logger.Warn().Err(err)
				if status >= http.StatusInternalServerError {
					evt = logger.Error().Err(err)
				}
			}

			tenant, _ := c.Get("tenant_id").(string)
			tenantSource, _ := c.Get("tenant_source").(string)

			evt.
				Str("request_id", rid).
				Str("tenant_id", tenant).
				Str("tenant_source", tenantSource).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

// statusFromError reports the status echo's error handler will write for err.
func statusFromError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
