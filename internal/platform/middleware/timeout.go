package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
)

// RequestTimeout sets a deadline on each request context. Handlers that run
// past it get a 504. WebSocket paths under /ws/ are long-lived and skipped.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/ws/") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				err = ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return apperr.HTTP(&apperr.Error{
					Status:  http.StatusGatewayTimeout,
					Code:    "timeout",
					Message: "request processing exceeded the allowed time limit",
					Err:     err,
				})
			}
			return err
		}
	}
}
