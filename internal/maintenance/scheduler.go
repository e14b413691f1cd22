package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleRecoverer requeues jobs stuck in dispatching.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Refresher reloads the endpoint directory.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Options struct {
	RecoverSchedule string        // cron spec; "" disables stale recovery
	RefreshSchedule string        // cron spec; "" disables endpoint refresh
	StaleAfter      time.Duration // dispatching age at which a job is requeued
	TaskTimeout     time.Duration
}

// Scheduler runs periodic housekeeping for the dispatcher: stale job
// recovery and endpoint directory refresh. A run still in progress makes the
// next tick of the same task a no-op.
type Scheduler struct {
	cron      *cron.Cron
	recoverer StaleRecoverer
	refresher Refresher
	opts      Options
	logger    *zap.Logger

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

func New(rec StaleRecoverer, ref Refresher, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 30 * time.Second
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       c,
		recoverer:  rec,
		refresher:  ref,
		opts:       opts,
		logger:     logger,
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}

	if rec != nil && opts.RecoverSchedule != "" {
		if _, err := c.AddFunc(opts.RecoverSchedule, func() { _, _ = s.RecoverNow(s.lifeCtx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("recover schedule %q: %w", opts.RecoverSchedule, err)
		}
	}
	if ref != nil && opts.RefreshSchedule != "" {
		if _, err := c.AddFunc(opts.RefreshSchedule, func() { _ = s.RefreshNow(s.lifeCtx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("endpoint refresh schedule %q: %w", opts.RefreshSchedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		zap.String("recover_schedule", s.opts.RecoverSchedule),
		zap.String("refresh_schedule", s.opts.RefreshSchedule),
	)
}

// Stop halts scheduling and waits for running tasks.
func (s *Scheduler) Stop() {
	s.lifeCancel()
	<-s.cron.Stop().Done()
}

// RecoverNow requeues jobs dispatching for longer than StaleAfter.
func (s *Scheduler) RecoverNow(ctx context.Context) (int64, error) {
	if s.recoverer == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()
	n, err := s.recoverer.RecoverStale(ctx, s.opts.StaleAfter)
	if err != nil {
		s.logger.Error("stale job recovery failed", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (s *Scheduler) RefreshNow(ctx context.Context) error {
	if s.refresher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn("endpoint refresh failed", zap.Error(err))
		return err
	}
	return nil
}
