package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
)

// RequireRole returns middleware that checks if the user has one of the
// specified roles. Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RoleFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return apperr.HTTP(apperr.Forbidden("forbidden",
				fmt.Sprintf("required role: %s", strings.Join(roles, " or "))))
		}
	}
}

// HasRole reports whether role satisfies any of required.
func HasRole(role string, required ...string) bool {
	if role == "" {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}
