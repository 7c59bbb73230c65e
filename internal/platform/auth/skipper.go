package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and school resolution.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// Skipper reports whether the request targets a public operational endpoint.
func Skipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
