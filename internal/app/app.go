package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/db"
	"github.com/jmehdipour/sms-forwarder/internal/dedup"
	"github.com/jmehdipour/sms-forwarder/internal/endpoint"
	"github.com/jmehdipour/sms-forwarder/internal/filter"
	httpSrv "github.com/jmehdipour/sms-forwarder/internal/http"
	"github.com/jmehdipour/sms-forwarder/internal/maintenance"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/jmehdipour/sms-forwarder/internal/service/ingest"
	"github.com/jmehdipour/sms-forwarder/internal/service/queue"
	"github.com/jmehdipour/sms-forwarder/internal/transport"
	"github.com/jmehdipour/sms-forwarder/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired forwarder. Build it with New and release it with Close.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Store      *sqlx.DB
	ClickHouse *sqlx.DB      // nil unless clickhouse.enabled
	Redis      *redis.Client // nil unless redis.enabled

	Rules     *repository.RulesRepositoryImpl
	Targets   *repository.TargetsRepositoryImpl
	History   repository.HistoryReader
	Directory *endpoint.Directory
	Resolver  *endpoint.Resolver
	Engine    *filter.Engine
	Queue     *queue.Service
	Pipeline  *ingest.Pipeline
	Transport *transport.Pool

	closers []func() error
}

// New opens the store (running migrations), the optional ClickHouse mirror
// and Redis, then wires every service on top.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	store, err := db.OpenStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if cfg.ClickHouse.Enabled {
		ch, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("clickhouse connect: %w", err)
		}
		a.ClickHouse = ch
		a.closers = append(a.closers, ch.Close)
	}

	if cfg.Redis.Enabled || (cfg.Dedup.Enabled && cfg.Dedup.Backend == "redis") {
		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config

	// repos
	a.Rules = repository.NewRulesRepository(a.Store)
	a.Targets = repository.NewTargetsRepository(a.Store)
	historyRepo := repository.NewHistoryRepository(a.Store)
	a.History = historyRepo

	var mirror repository.HistoryRecorder
	if a.ClickHouse != nil {
		ch := repository.NewCHHistoryRepository(a.ClickHouse)
		mirror = ch
		a.History = ch
	}

	// endpoints
	src, err := endpoint.NewSource(cfg.Endpoints)
	if err != nil {
		return fmt.Errorf("endpoint source: %w", err)
	}
	a.Directory = endpoint.NewDirectory(src, cfg.Endpoints.CacheTTL, nil, a.Logger.Named("endpoints"))
	mode, _ := model.ParseSelectionMode(cfg.Forward.DefaultSelectionMode)
	a.Resolver = endpoint.NewResolver(a.Directory, mode, a.Logger.Named("resolver"))

	// rules
	loc, err := cfg.Filter.Location()
	if err != nil {
		return fmt.Errorf("filter timezone: %w", err)
	}
	a.Engine, err = filter.NewEngine(a.Rules, a.Directory, filter.Options{
		Location:       loc,
		RegexCacheSize: cfg.Filter.RegexCacheSize,
	}, a.Logger.Named("filter"))
	if err != nil {
		return err
	}

	// queue
	a.Queue = queue.New(a.Store, repository.NewJobsRepository(a.Store), historyRepo, mirror,
		QueueOptions(cfg.Queue), a.Logger.Named("queue"))

	// ingest
	dd, err := dedup.New(cfg.Dedup, a.Redis)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	a.Pipeline = ingest.NewPipeline(
		a.Targets,
		a.Engine,
		a.Resolver,
		a.Queue,
		dd,
		ingest.NewFormatter(cfg.Forward.Template, loc),
		ingest.Options{CountryCode: cfg.Forward.DefaultCountryCode},
		a.Logger.Named("ingest"),
	)

	a.Transport = transport.NewPoolFromConfig(cfg.Transport, nil)
	return nil
}

// QueueOptions maps queue config onto the delivery queue.
func QueueOptions(c config.QueueConfig) queue.Options {
	opts := queue.DefaultOptions()
	if c.MaxRetry > 0 {
		opts.Retry.MaxRetry = c.MaxRetry
	}
	if c.BackoffBase > 0 {
		opts.Retry.BackoffBase = c.BackoffBase
	}
	opts.Delays = map[model.Priority]time.Duration{
		model.PriorityHigh:   c.Delays.High,
		model.PriorityNormal: c.Delays.Normal,
		model.PriorityLow:    c.Delays.Low,
	}
	return opts
}

// Dispatcher builds the delivery worker from dispatcher config.
func (a *App) Dispatcher() *worker.Dispatcher {
	d := worker.NewDispatcher(a.Queue, a.Transport, a.Logger.Named("dispatcher"))
	c := a.Config.Dispatcher
	if c.WorkerCount > 0 {
		d.Workers = c.WorkerCount
	}
	if c.ClaimBatch > 0 {
		d.ClaimBatch = c.ClaimBatch
	}
	if c.PollInterval > 0 {
		d.PollInterval = c.PollInterval
	}
	if a.Config.Transport.SendTimeout > 0 {
		d.SendTimeout = a.Config.Transport.SendTimeout
	}
	return d
}

func (a *App) Maintenance() (*maintenance.Scheduler, error) {
	return maintenance.New(a.Queue, a.Directory, maintenance.Options{
		RecoverSchedule: a.Config.Maintenance.RecoverSchedule,
		RefreshSchedule: a.Config.Maintenance.EndpointRefreshSchedule,
		StaleAfter:      a.Config.Dispatcher.StaleAfter,
	}, a.Logger.Named("maintenance"))
}

func (a *App) HTTPServer() *httpSrv.Server {
	return httpSrv.NewServer(a.Config, httpSrv.Deps{
		Ingest:    a.Pipeline,
		Jobs:      a.Queue,
		History:   a.History,
		Endpoints: a.Directory,
		Redis:     a.Redis,
		Logger:    a.Logger.Named("http"),
	})
}

// RecoverAll requeues every job left dispatching by a previous process. Only
// call it before any dispatcher of this process has started.
func (a *App) RecoverAll(ctx context.Context) error {
	n, err := a.Queue.RecoverStale(ctx, 0)
	if err != nil {
		return err
	}
	if n > 0 {
		a.Logger.Info("requeued jobs interrupted by the previous run", zap.Int64("count", n))
	}
	return nil
}

// Close waits for background writes and releases connections in reverse
// order of opening.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Wait()
	}
	if a.Queue != nil {
		a.Queue.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
