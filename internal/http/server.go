package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/endpoint"
	"github.com/jmehdipour/sms-forwarder/internal/http/middleware"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/jmehdipour/sms-forwarder/internal/service/ingest"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	gommonLog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Ingester interface {
	IngestWithPriority(ctx context.Context, m model.InboundMessage, p model.Priority) (ingest.Summary, error)
}

// JobAdmin is the operator view of the delivery queue.
type JobAdmin interface {
	Pending(ctx context.Context, limit int) ([]model.DeliveryJob, error)
	Counts(ctx context.Context) (map[model.JobState]int64, error)
	Get(ctx context.Context, jobID string) (*model.DeliveryJob, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	CancelByTag(ctx context.Context, tag string) (int, error)
	InFlight() int
}

type EndpointDirectory interface {
	Snapshot(ctx context.Context) (endpoint.Snapshot, error)
	Refresh(ctx context.Context) error
}

// Deps are the services the API exposes. Redis is optional and only used by
// the rate limiter.
type Deps struct {
	Ingest    Ingester
	Jobs      JobAdmin
	History   repository.HistoryReader
	Endpoints EndpointDirectory
	Redis     *redis.Client
	Logger    *zap.Logger
}

type Server struct {
	e      *echo.Echo
	logger *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), requestLogger(d.Logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Auth.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "smsfwd:rl:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/inbound", inboundHandler(d.Ingest))
	v1.GET("/history", listHistoryHandler(d.History, cfg.Forward.DefaultCountryCode))
	v1.GET("/jobs", listJobsHandler(d.Jobs))
	v1.GET("/jobs/:id", getJobHandler(d.Jobs))
	v1.DELETE("/jobs/:id", cancelJobHandler(d.Jobs))
	v1.DELETE("/jobs", cancelJobsByTagHandler(d.Jobs))
	v1.GET("/endpoints", listEndpointsHandler(d.Endpoints))
	v1.POST("/endpoints/refresh", refreshEndpointsHandler(d.Endpoints))

	return &Server{e: e, logger: d.Logger}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("http request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Debug("http request", fields...)
			return nil
		},
	})
}

// echoLogLevel maps log.level onto echo's logger used by c.Logger().
func echoLogLevel(level string) gommonLog.Lvl {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return gommonLog.DEBUG
	case "warn":
		return gommonLog.WARN
	case "error":
		return gommonLog.ERROR
	default:
		return gommonLog.INFO
	}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.logger.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
