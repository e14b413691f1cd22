package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
)

func listEndpointsHandler(dir EndpointDirectory) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap, err := dir.Snapshot(c.Request().Context())
		if err != nil {
			c.Logger().Warnf("endpoint directory unavailable: %v", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "endpoint directory unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"default_subscription_id": snap.DefaultID,
			"active":                  len(snap.Active()),
			"endpoints":               snap.Endpoints,
		})
	}
}

func refreshEndpointsHandler(dir EndpointDirectory) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := dir.Refresh(ctx); err != nil {
			c.Logger().Warnf("endpoint refresh failed: %v", err)
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "refresh failed"})
		}
		return listEndpointsHandler(dir)(c)
	}
}
