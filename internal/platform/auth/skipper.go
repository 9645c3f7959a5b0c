package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that bypass authentication: infrastructure
// endpoints, the sign-in and self-registration endpoints and the read-only
// queue board socket.
var publicPaths = map[string]bool{
	"/health":               true,
	"/health/db":            true,
	"/metrics":              true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/register": true,
	"/ws/queue":             true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
