package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/service/queue"
	"github.com/jmehdipour/sms-forwarder/internal/transport"
	"go.uber.org/zap"
)

// JobQueue is the part of the delivery queue the dispatcher drives.
type JobQueue interface {
	Claim(ctx context.Context, limit int) ([]model.DeliveryJob, error)
	Track(ctx context.Context, jobID string) (context.Context, func())
	Complete(ctx context.Context, job model.DeliveryJob) error
	Fail(ctx context.Context, job model.DeliveryJob, reason string, retryable bool) (queue.FailResult, error)
	Wake() <-chan struct{}
}

// Dispatcher:
// - claims due jobs from the queue, never more than it has idle processors,
// - sends them through the transport on Workers goroutines,
// - funnels every outcome through a single writer goroutine.
type Dispatcher struct {
	// Dependencies
	Queue     JobQueue
	Transport transport.Transport
	Logger    *zap.Logger

	// Behavior
	Workers      int           // concurrent sends
	ClaimBatch   int           // max jobs claimed per poll
	PollInterval time.Duration // idle poll period; Wake() shortcuts it
	SendTimeout  time.Duration // a send still pending after this is a TIMEOUT failure
}

func NewDispatcher(q JobQueue, tr transport.Transport, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Queue:        q,
		Transport:    tr,
		Logger:       logger,
		Workers:      3,
		ClaimBatch:   16,
		PollInterval: 500 * time.Millisecond,
		SendTimeout:  30 * time.Second,
	}
}

type outcome struct {
	job model.DeliveryJob
	res transport.Result
}

// Run blocks until ctx is cancelled. Sends already started are allowed to
// finish (bounded by SendTimeout) and their outcomes are written before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Queue == nil || d.Transport == nil {
		return errors.New("dispatcher: queue and transport are required")
	}
	if d.Workers <= 0 {
		d.Workers = 3
	}
	if d.ClaimBatch <= 0 {
		d.ClaimBatch = 16
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 500 * time.Millisecond
	}
	if d.SendTimeout <= 0 {
		d.SendTimeout = 30 * time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	// in-flight work outlives ctx so shutdown does not turn sends into failures
	bg := context.WithoutCancel(ctx)

	outcomes := make(chan outcome, d.Workers*2)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		d.runWriter(bg, outcomes)
	}()

	jobs := make(chan model.DeliveryJob)
	idle := make(chan struct{}, d.Workers)
	var wg sync.WaitGroup
	for i := 0; i < d.Workers; i++ {
		idle <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runProcessor(bg, jobs, idle, outcomes)
		}()
	}

	d.runFetcher(ctx, jobs, idle)

	close(jobs)
	wg.Wait()
	close(outcomes)
	<-writerDone
	return nil
}

func (d *Dispatcher) runFetcher(ctx context.Context, jobs chan<- model.DeliveryJob, idle chan struct{}) {
	tick := time.NewTicker(d.PollInterval)
	defer tick.Stop()

	for {
		// wait for a free processor
		select {
		case <-ctx.Done():
			return
		case <-idle:
		}
		free := 1
	drain:
		for free < d.ClaimBatch {
			select {
			case <-idle:
				free++
			default:
				break drain
			}
		}

		claimed, err := d.Queue.Claim(ctx, free)
		if err != nil && ctx.Err() == nil {
			d.Logger.Error("claim failed", zap.Error(err))
		}
		for _, j := range claimed {
			jobs <- j
			free--
		}
		for ; free > 0; free-- {
			idle <- struct{}{}
		}
		if len(claimed) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		case <-d.Queue.Wake():
		}
	}
}

func (d *Dispatcher) runProcessor(ctx context.Context, in <-chan model.DeliveryJob, idle chan<- struct{}, out chan<- outcome) {
	for job := range in {
		res := d.send(ctx, job)
		metrics.TransportResultsTotal.WithLabelValues(res.Code.String()).Inc()
		out <- outcome{job: job, res: res}
		idle <- struct{}{}
	}
}

func (d *Dispatcher) send(ctx context.Context, job model.DeliveryJob) transport.Result {
	tctx, release := d.Queue.Track(ctx, job.ID)
	defer release()
	sendCtx, cancel := context.WithTimeout(tctx, d.SendTimeout)
	defer cancel()

	var ch <-chan transport.Result
	if parts := d.Transport.Divide(job.ForwardBody); len(parts) > 1 {
		ch = d.Transport.SendMultipart(sendCtx, parts, job.Target, job.EndpointID)
	} else {
		ch = d.Transport.Send(sendCtx, job.ForwardBody, job.Target, job.EndpointID)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return transport.Result{Code: transport.CodeGenericFailure, Err: errors.New("transport returned no result")}
		}
		return res
	case <-sendCtx.Done():
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return transport.Result{Code: transport.CodeTimeout, Err: sendCtx.Err()}
		}
		return transport.Result{Code: transport.CodeGenericFailure, Err: sendCtx.Err()}
	}
}

// runWriter applies outcomes one at a time; it is the only goroutine that
// finishes jobs.
func (d *Dispatcher) runWriter(ctx context.Context, in <-chan outcome) {
	for o := range in {
		d.apply(ctx, o)
	}
}

func (d *Dispatcher) apply(ctx context.Context, o outcome) {
	log := d.Logger.With(
		zap.String("job_id", o.job.ID),
		zap.String("target", o.job.Target),
		zap.String("priority", o.job.Priority.String()),
	)

	if o.res.Code.Success() {
		err := d.Queue.Complete(ctx, o.job)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			log.Info("job cancelled during send, success dropped")
		case err != nil:
			log.Error("complete job failed", zap.Error(err))
		default:
			log.Debug("job delivered", zap.Int("retry_count", o.job.RetryCount))
		}
		return
	}

	reason := o.res.Error()
	fr, err := d.Queue.Fail(ctx, o.job, reason, o.res.Code.Retryable())
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		log.Info("job cancelled during send, failure dropped", zap.String("reason", reason))
	case err != nil:
		log.Error("fail job failed", zap.String("reason", reason), zap.Error(err))
	case fr.Permanent:
		log.Warn("job failed permanently", zap.String("reason", reason), zap.Int("retry_count", fr.RetryCount))
	default:
		log.Info("job scheduled for retry",
			zap.String("reason", reason),
			zap.Int("retry_count", fr.RetryCount),
			zap.Time("next_attempt_at", fr.NextAttemptAt),
		)
	}
}
