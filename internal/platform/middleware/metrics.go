package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/metrics"
)

// Metrics records request count and latency per route template, so
// /api/v1/patients/:id is one series regardless of the id.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveHTTP(route, c.Request().Method, status, time.Since(start))
			return err
		}
	}
}
