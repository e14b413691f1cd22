package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/zeebo/xxh3"
)

const ctxClientID = "client_id"

// ClientIDFromCtx returns the caller identity set by APIKeyMiddleware.
func ClientIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxClientID).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using the X-API-Key header against
// the configured keys. With no keys configured every request passes.
// The client id stored in context is a hash of the key, never the key itself.
func APIKeyMiddleware(keys []string) echo.MiddlewareFunc {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(valid) == 0 {
				return next(c)
			}
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			match := 0
			for _, v := range valid {
				match |= subtle.ConstantTimeCompare([]byte(key), v)
			}
			if match != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxClientID, fmt.Sprintf("%016x", xxh3.HashString(key)))
			return next(c)
		}
	}
}
