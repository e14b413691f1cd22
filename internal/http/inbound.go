package http

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/labstack/echo/v4"
)

// inboundHandler accepts a received SMS and runs it through the forward
// pipeline. The response lists what was enqueued; delivery outcomes only
// reach history.
func inboundHandler(p Ingester) echo.HandlerFunc {
	validate := validator.New()
	return func(c echo.Context) error {
		var req model.InboundEnvelope
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if q := c.QueryParam("priority"); q != "" && req.Priority == "" {
			req.Priority = q
		}
		if err := validate.Struct(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload", "detail": err.Error()})
		}
		prio, _ := model.ParsePriority(req.Priority)

		sum, err := p.IngestWithPriority(c.Request().Context(), req.Message(time.Now()), prio)
		if err != nil {
			c.Logger().Errorf("ingest failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]any{
				"error":   "ingest failed",
				"summary": sum,
			})
		}

		enqueued, blocked := sum.Counts()
		return c.JSON(http.StatusAccepted, map[string]any{
			"duplicate": sum.Duplicate,
			"priority":  sum.Priority,
			"enqueued":  enqueued,
			"blocked":   blocked,
			"targets":   sum.Targets,
		})
	}
}
