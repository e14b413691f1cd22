package http

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

func listJobsHandler(jobs JobAdmin) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := paging(c)
		ctx := c.Request().Context()

		pending, err := jobs.Pending(ctx, limit)
		if err != nil {
			c.Logger().Errorf("list jobs failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		counts, err := jobs.Counts(ctx)
		if err != nil {
			c.Logger().Errorf("count jobs failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"in_flight": jobs.InFlight(),
			"counts":    counts,
			"count":     len(pending),
			"results":   pending,
		})
	}
}

func getJobHandler(jobs JobAdmin) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := jobs.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Errorf("get job failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if job == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusOK, job)
	}
}

// cancelJobHandler drops a pending job; a send already running is aborted
// and nothing is written to history.
func cancelJobHandler(jobs JobAdmin) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, err := jobs.Cancel(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Errorf("cancel job failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "cancel failed"})
		}
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func cancelJobsByTagHandler(jobs JobAdmin) echo.HandlerFunc {
	return func(c echo.Context) error {
		tag := strings.TrimSpace(c.QueryParam("tag"))
		if tag == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "tag is required"})
		}
		n, err := jobs.CancelByTag(c.Request().Context(), tag)
		if err != nil {
			c.Logger().Errorf("cancel tag failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "cancel failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{"tag": tag, "cancelled": n})
	}
}
