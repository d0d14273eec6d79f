package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery converts a handler panic into a 500 that carries the request id,
// so a caller can quote it when reporting a failed score. The stack goes to
// the log only. http.ErrAbortHandler is re-raised for net/http to handle.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				rid, _ := c.Get("request_id").(string)
				tenant, _ := c.Get("tenant_id").(string)
				evt := logger.Error()
				if perr, ok := r.(error); ok {
					evt = evt.AnErr("panic", perr)
				} else {
					evt = evt.Str("panic", fmt.Sprint(r))
				}
				evt.Str("request_id", rid).
					Str("tenant_id", tenant).
					Str("route", c.Path()).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal error (request "+rid+")")
			}()
			return next(c)
		}
	}
}
