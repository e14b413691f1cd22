package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/jmehdipour/sms-forwarder/internal/util"
	echo "github.com/labstack/echo/v4"
)

func listHistoryHandler(repo repository.HistoryReader, countryCode string) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := paging(c)

		f := model.HistoryFilter{Limit: limit, Offset: offset}
		if raw := strings.TrimSpace(c.QueryParam("target")); raw != "" {
			f.Target = util.NormalizePhone(raw, countryCode)
		}
		if raw := strings.TrimSpace(c.QueryParam("sender")); raw != "" {
			f.Sender = util.NormalizePhone(raw, countryCode)
		}
		if raw := c.QueryParam("success"); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid success filter"})
			}
			f.Success = &b
		}

		recs, err := repo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("history list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(recs),
			"results": recs,
		})
	}
}

func paging(c echo.Context) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
