// Package queue is the durable, priority-tiered delivery queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/jmehdipour/sms-forwarder/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned when a job was cancelled or already finished.
var ErrJobNotFound = errors.New("delivery job not found")

// ErrNotDispatching rejects outcomes for a job that was never claimed.
var ErrNotDispatching = errors.New("delivery job is not dispatching")

// Request is one forward to enqueue.
type Request struct {
	Tag              string // DefaultJobTag when empty
	Sender           string
	Body             string
	ForwardBody      string
	Target           string
	Priority         model.Priority
	SourceEndpointID int32
	SourceSlot       int32
	EndpointID       int32
	Slot             int32
	ReceivedAt       time.Time
}

type EnqueueOutcome string

const (
	OutcomeEnqueued  EnqueueOutcome = "enqueued"
	OutcomeReplaced  EnqueueOutcome = "replaced"  // pending jobs of the chain were dropped first
	OutcomeCoalesced EnqueueOutcome = "coalesced" // folded into an identical pending job
)

type EnqueueResult struct {
	JobID    string
	Outcome  EnqueueOutcome
	Replaced int64
}

// FailResult says what Fail did with the job.
type FailResult struct {
	Permanent     bool
	RetryCount    int
	NextAttemptAt time.Time
}

type Options struct {
	Retry  RetryPolicy
	Delays map[model.Priority]time.Duration
	Now    func() time.Time
}

// DefaultOptions: 3 attempts, 2 s backoff base and the built-in tier delays.
func DefaultOptions() Options {
	return Options{
		Retry: DefaultRetryPolicy(),
		Delays: map[model.Priority]time.Duration{
			model.PriorityHigh:   model.PriorityHigh.InitialDelay(),
			model.PriorityNormal: model.PriorityNormal.InitialDelay(),
			model.PriorityLow:    model.PriorityLow.InitialDelay(),
		},
	}
}

// Service owns delivery_jobs. Outcomes are written in the same transaction
// as the job's removal, so each job yields at most one history record.
type Service struct {
	db      *sqlx.DB
	jobs    repository.JobsRepository
	history repository.HistoryRepository
	mirror  repository.HistoryRecorder // optional, best effort
	logger  *zap.Logger

	retry  RetryPolicy
	delays map[model.Priority]time.Duration
	now    func() time.Time

	inflight *xsync.Map[string, context.CancelFunc]
	wake     chan struct{}
	mirrors  sync.WaitGroup
}

func New(
	db *sqlx.DB,
	jobsRepo repository.JobsRepository,
	historyRepo repository.HistoryRepository,
	mirror repository.HistoryRecorder,
	opts Options,
	logger *zap.Logger,
) *Service {
	if opts.Retry.MaxRetry <= 0 {
		opts.Retry.MaxRetry = DefaultMaxRetry
	}
	if opts.Retry.BackoffBase <= 0 {
		opts.Retry.BackoffBase = DefaultBackoffBase
	}
	if opts.Delays == nil {
		opts.Delays = DefaultOptions().Delays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       db,
		jobs:     jobsRepo,
		history:  historyRepo,
		mirror:   mirror,
		logger:   logger,
		retry:    opts.Retry,
		delays:   opts.Delays,
		now:      opts.Now,
		inflight: xsync.NewMap[string, context.CancelFunc](),
		wake:     make(chan struct{}, 1),
	}
}

func (s *Service) RetryPolicy() RetryPolicy { return s.retry }

// Wake fires after enqueues and retries so an idle dispatcher can claim early.
func (s *Service) Wake() <-chan struct{} { return s.wake }

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) delayFor(p model.Priority) time.Duration {
	if d, ok := s.delays[p]; ok {
		return d
	}
	return p.InitialDelay()
}

// Enqueue stores a job for req.Target, applying its tier's delay and
// de-duplication policy within one transaction.
func (s *Service) Enqueue(ctx context.Context, req Request) (EnqueueResult, error) {
	if !req.Priority.Valid() {
		return EnqueueResult{}, fmt.Errorf("enqueue: invalid priority %q", req.Priority)
	}
	if req.Target == "" {
		return EnqueueResult{}, errors.New("enqueue: empty target")
	}
	if req.Tag == "" {
		req.Tag = model.DefaultJobTag
	}

	now := s.now()
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = now
	}
	job := model.DeliveryJob{
		ID:               util.NewID(now),
		Tag:              req.Tag,
		ChainKey:         model.ChainKey(req.Priority, req.Target),
		Sender:           req.Sender,
		Body:             req.Body,
		ForwardBody:      req.ForwardBody,
		Target:           req.Target,
		Priority:         req.Priority,
		State:            model.JobQueued,
		SourceEndpointID: req.SourceEndpointID,
		SourceSlot:       req.SourceSlot,
		EndpointID:       req.EndpointID,
		Slot:             req.Slot,
		ReceivedAt:       req.ReceivedAt,
		EnqueuedAt:       now,
		NextAttemptAt:    now.Add(s.delayFor(req.Priority)),
		UpdatedAt:        now,
	}

	res := EnqueueResult{JobID: job.ID, Outcome: OutcomeEnqueued}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return EnqueueResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	switch req.Priority.DedupPolicy() {
	case model.DedupReplace:
		n, err := s.jobs.DeleteQueuedInChain(ctx, tx, job.ChainKey)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("replace pending: %w", err)
		}
		if n > 0 {
			res.Outcome, res.Replaced = OutcomeReplaced, n
		}
	case model.DedupAppendOrReplace:
		dup, err := s.jobs.FindQueuedDuplicate(ctx, tx, job.ChainKey, job.Sender, job.Body)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("find duplicate: %w", err)
		}
		if dup != nil {
			job.ID = dup.ID
			if err := s.jobs.Refresh(ctx, tx, job); err != nil {
				return EnqueueResult{}, fmt.Errorf("coalesce: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return EnqueueResult{}, err
			}
			metrics.JobsTotal.WithLabelValues("coalesced", job.Priority.String()).Inc()
			s.notify()
			return EnqueueResult{JobID: dup.ID, Outcome: OutcomeCoalesced}, nil
		}
	}

	if _, err := s.jobs.Insert(ctx, tx, job); err != nil {
		return EnqueueResult{}, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return EnqueueResult{}, err
	}

	if res.Outcome == OutcomeReplaced {
		metrics.JobsTotal.WithLabelValues("replaced", job.Priority.String()).Add(float64(res.Replaced))
	}
	metrics.JobsTotal.WithLabelValues("enqueued", job.Priority.String()).Inc()
	s.notify()
	return res, nil
}

// Claim moves up to limit due jobs to dispatching.
func (s *Service) Claim(ctx context.Context, limit int) ([]model.DeliveryJob, error) {
	jobs, err := s.jobs.ClaimDue(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	for _, j := range jobs {
		metrics.JobsTotal.WithLabelValues("dispatched", j.Priority.String()).Inc()
	}
	return jobs, nil
}

// Track derives the context a claimed job is sent under; Cancel aborts it.
// The returned release must be called once the send has finished.
func (s *Service) Track(ctx context.Context, jobID string) (context.Context, func()) {
	jctx, cancel := context.WithCancel(ctx)
	s.inflight.Store(jobID, cancel)
	return jctx, func() {
		s.inflight.Delete(jobID)
		cancel()
	}
}

// Complete records the success and drops the job.
func (s *Service) Complete(ctx context.Context, job model.DeliveryJob) error {
	if !model.CanTransition(job.State, model.JobSucceeded) {
		return fmt.Errorf("complete %s (%s): %w", job.ID, job.State, ErrNotDispatching)
	}
	rec := historyFor(job, s.now())
	rec.Success = true
	if err := s.finish(ctx, job, rec); err != nil {
		return err
	}
	metrics.JobsTotal.WithLabelValues("succeeded", job.Priority.String()).Inc()
	return nil
}

// Fail either schedules another attempt or, once the retry ceiling is hit or
// the failure is not retryable, records the permanent failure and drops the
// job.
func (s *Service) Fail(ctx context.Context, job model.DeliveryJob, reason string, retryable bool) (FailResult, error) {
	now := s.now()
	next, delay, permanent := s.retry.Next(job.RetryCount)
	if !retryable {
		permanent = true
	}
	to := model.JobRetryScheduled
	if permanent {
		to = model.JobFailedPermanent
	}
	if !model.CanTransition(job.State, to) {
		return FailResult{}, fmt.Errorf("fail %s (%s): %w", job.ID, job.State, ErrNotDispatching)
	}

	if !permanent {
		at := now.Add(delay)
		ok, err := s.jobs.ScheduleRetry(ctx, nil, job.ID, next, at, reason, now)
		if err != nil {
			return FailResult{}, fmt.Errorf("schedule retry: %w", err)
		}
		if !ok {
			return FailResult{}, ErrJobNotFound
		}
		metrics.JobsTotal.WithLabelValues("retried", job.Priority.String()).Inc()
		s.notify()
		return FailResult{RetryCount: next, NextAttemptAt: at}, nil
	}

	job.RetryCount = next
	rec := historyFor(job, now)
	rec.Error = reason
	if retryable {
		rec.Error = "max retries exceeded: " + reason
	}
	if err := s.finish(ctx, job, rec); err != nil {
		return FailResult{}, err
	}
	metrics.JobsTotal.WithLabelValues("failed", job.Priority.String()).Inc()
	return FailResult{Permanent: true, RetryCount: next}, nil
}

func (s *Service) finish(ctx context.Context, job model.DeliveryJob, rec model.HistoryRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := s.jobs.Delete(ctx, tx, job.ID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if !ok {
		return ErrJobNotFound
	}
	if err := s.history.Insert(ctx, tx, rec); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.mirror != nil {
		s.mirrors.Add(1)
		go func() {
			defer s.mirrors.Done()
			mctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.mirror.Record(mctx, rec); err != nil {
				s.logger.Warn("history mirror failed", zap.String("job_id", rec.JobID), zap.Error(err))
			}
		}()
	}
	return nil
}

func historyFor(job model.DeliveryJob, at time.Time) model.HistoryRecord {
	return model.HistoryRecord{
		JobID:                job.ID,
		Sender:               job.Sender,
		OriginalBody:         job.Body,
		Target:               job.Target,
		ForwardedBody:        job.ForwardBody,
		Timestamp:            at,
		SourceSlot:           job.SourceSlot,
		ForwardingSlot:       job.Slot,
		SourceEndpointID:     job.SourceEndpointID,
		ForwardingEndpointID: job.EndpointID,
		RetryCount:           job.RetryCount,
		Priority:             job.Priority,
	}
}

// Cancel drops the job and aborts its send if one is running. No history is
// written for cancelled jobs.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.jobs.Delete(ctx, nil, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", jobID, err)
	}
	if cancel, found := s.inflight.LoadAndDelete(jobID); found {
		cancel()
	}
	if ok {
		metrics.JobsTotal.WithLabelValues("cancelled", "").Inc()
	}
	return ok, nil
}

// CancelByTag drops every job carrying tag.
func (s *Service) CancelByTag(ctx context.Context, tag string) (int, error) {
	ids, err := s.jobs.DeleteByTag(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("cancel tag %s: %w", tag, err)
	}
	for _, id := range ids {
		if cancel, found := s.inflight.LoadAndDelete(id); found {
			cancel()
		}
	}
	metrics.JobsTotal.WithLabelValues("cancelled", "").Add(float64(len(ids)))
	return len(ids), nil
}

// RecoverStale requeues jobs that have been dispatching for longer than
// olderThan. olderThan must exceed the transport send timeout.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	n, err := s.jobs.RecoverStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	if n > 0 {
		s.logger.Info("recovered stale jobs", zap.Int64("count", n))
		metrics.JobsTotal.WithLabelValues("recovered", "").Add(float64(n))
		s.notify()
	}
	return n, nil
}

func (s *Service) InFlight() int { return s.inflight.Size() }

func (s *Service) Pending(ctx context.Context, limit int) ([]model.DeliveryJob, error) {
	return s.jobs.ListPending(ctx, limit)
}

func (s *Service) Counts(ctx context.Context) (map[model.JobState]int64, error) {
	return s.jobs.CountByState(ctx)
}

func (s *Service) Get(ctx context.Context, jobID string) (*model.DeliveryJob, error) {
	return s.jobs.Get(ctx, nil, jobID)
}

// Wait blocks until pending history mirror writes have finished.
func (s *Service) Wait() {
	s.mirrors.Wait()
}
