// Package ingest turns one inbound message into delivery jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/dedup"
	"github.com/jmehdipour/sms-forwarder/internal/endpoint"
	"github.com/jmehdipour/sms-forwarder/internal/filter"
	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/service/queue"
	"github.com/jmehdipour/sms-forwarder/internal/util"
	"go.uber.org/zap"
)

type TargetStore interface {
	ListEnabled(ctx context.Context) ([]model.TargetAddress, error)
	TouchLastUsed(ctx context.Context, phone string, at time.Time) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, in filter.Input) filter.Decision
}

type Resolver interface {
	Resolve(ctx context.Context, target model.TargetAddress, sourceEndpointID int32) endpoint.Selection
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.Request) (queue.EnqueueResult, error)
}

const ReasonSelfTarget = "target is the sender"

// TargetResult is what happened for one target.
type TargetResult struct {
	Target     string               `json:"target"`
	Enqueued   bool                 `json:"enqueued"`
	JobID      string               `json:"job_id,omitempty"`
	Outcome    queue.EnqueueOutcome `json:"outcome,omitempty"`
	Reason     string               `json:"reason"`
	EndpointID int32                `json:"endpoint_id"`
	Slot       int32                `json:"slot"`
	Error      string               `json:"error,omitempty"`
}

// Summary reports what ingest did. It carries no delivery outcomes; those
// only reach forward history.
type Summary struct {
	Duplicate bool           `json:"duplicate"`
	Priority  model.Priority `json:"priority"`
	Targets   []TargetResult `json:"targets"`
}

func (s Summary) Counts() (enqueued, blocked int) {
	for _, t := range s.Targets {
		if t.Enqueued {
			enqueued++
		} else if t.Error == "" {
			blocked++
		}
	}
	return enqueued, blocked
}

type Pipeline struct {
	targets     TargetStore
	rules       Evaluator
	resolver    Resolver
	queue       Enqueuer
	dedup       dedup.Store // nil disables duplicate suppression
	format      *Formatter
	countryCode string
	now         func() time.Time
	logger      *zap.Logger
}

type Options struct {
	CountryCode string
	Now         func() time.Time
}

func NewPipeline(
	targets TargetStore,
	rules Evaluator,
	resolver Resolver,
	q Enqueuer,
	dd dedup.Store,
	format *Formatter,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if format == nil {
		format = NewFormatter(DefaultTemplate, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		targets:     targets,
		rules:       rules,
		resolver:    resolver,
		queue:       q,
		dedup:       dd,
		format:      format,
		countryCode: opts.CountryCode,
		now:         opts.Now,
		logger:      logger,
	}
}

// Ingest forwards at NORMAL priority.
func (p *Pipeline) Ingest(ctx context.Context, m model.InboundMessage) (Summary, error) {
	return p.IngestWithPriority(ctx, m, model.PriorityNormal)
}

// IngestUrgent forwards at HIGH priority.
func (p *Pipeline) IngestUrgent(ctx context.Context, m model.InboundMessage) (Summary, error) {
	return p.IngestWithPriority(ctx, m, model.PriorityHigh)
}

// IngestDeferred forwards at LOW priority.
func (p *Pipeline) IngestDeferred(ctx context.Context, m model.InboundMessage) (Summary, error) {
	return p.IngestWithPriority(ctx, m, model.PriorityLow)
}

func (p *Pipeline) IngestWithPriority(ctx context.Context, m model.InboundMessage, prio model.Priority) (Summary, error) {
	if !prio.Valid() {
		return Summary{}, fmt.Errorf("ingest: invalid priority %q", prio)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = p.now()
	}
	m.Sender = util.NormalizePhone(m.Sender, p.countryCode)
	sum := Summary{Priority: prio}

	log := p.logger.With(zap.String("sender", m.Sender), zap.String("priority", prio.String()))

	var dedupKey string
	if p.dedup != nil {
		key := dedup.Key(m)
		seen, err := p.dedup.Seen(ctx, key)
		switch {
		case err != nil:
			// fail open
			log.Warn("dedup check failed", zap.Error(err))
		case seen:
			log.Info("duplicate inbound event suppressed")
			metrics.InboundTotal.WithLabelValues("duplicate").Inc()
			sum.Duplicate = true
			return sum, nil
		default:
			dedupKey = key
		}
	}
	metrics.InboundTotal.WithLabelValues("accepted").Inc()

	sum, err := p.forward(ctx, m, sum, log)
	if err != nil && dedupKey != "" {
		// the caller retries a failed ingest; it must not come back as a duplicate
		if ferr := p.dedup.Forget(context.WithoutCancel(ctx), dedupKey); ferr != nil {
			log.Warn("dedup forget failed", zap.Error(ferr))
		}
	}
	return sum, err
}

func (p *Pipeline) forward(ctx context.Context, m model.InboundMessage, sum Summary, log *zap.Logger) (Summary, error) {
	targets, err := p.targets.ListEnabled(ctx)
	if err != nil {
		return sum, fmt.Errorf("ingest: list targets: %w", err)
	}
	if len(targets) == 0 {
		log.Info("no enabled targets, nothing to forward")
		return sum, nil
	}

	in := filter.Input{
		Sender:           m.Sender,
		Body:             m.Body,
		Timestamp:        m.Timestamp,
		SourceEndpointID: m.SourceEndpointID,
		SourceSlot:       m.SourceSlot,
	}
	forwardBody := p.format.Format(m)

	// the decision does not depend on the target; evaluate at most once
	var (
		d         filter.Decision
		evaluated bool
		errs      []error
	)
	for _, t := range targets {
		stored := t.Phone
		t.Phone = util.NormalizePhone(t.Phone, p.countryCode)
		res := TargetResult{Target: t.Phone, EndpointID: endpoint.DefaultEndpointID, Slot: model.UnknownEndpoint}

		if t.Phone == m.Sender {
			res.Reason = ReasonSelfTarget
			sum.Targets = append(sum.Targets, res)
			continue
		}

		if !evaluated {
			d, evaluated = p.rules.Evaluate(ctx, in), true
			if !d.Allow {
				log.Info("message blocked", zap.String("reason", d.Reason))
			}
		}
		res.Reason = d.Reason
		if !d.Allow {
			sum.Targets = append(sum.Targets, res)
			continue
		}

		sel := p.resolver.Resolve(ctx, t, m.SourceEndpointID)
		if !sel.Valid {
			// the transport falls back to the device default
			log.Warn("no usable endpoint, using device default",
				zap.String("target", t.Phone), zap.String("reason", sel.Reason))
		}
		res.EndpointID, res.Slot = sel.EndpointID, sel.Slot

		er, err := p.queue.Enqueue(ctx, queue.Request{
			Tag:              model.DefaultJobTag,
			Sender:           m.Sender,
			Body:             m.Body,
			ForwardBody:      forwardBody,
			Target:           t.Phone,
			Priority:         sum.Priority,
			SourceEndpointID: m.SourceEndpointID,
			SourceSlot:       m.SourceSlot,
			EndpointID:       sel.EndpointID,
			Slot:             sel.Slot,
			ReceivedAt:       m.Timestamp,
		})
		if err != nil {
			log.Error("enqueue failed", zap.String("target", t.Phone), zap.Error(err))
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("target %s: %w", t.Phone, err))
			sum.Targets = append(sum.Targets, res)
			continue
		}
		res.Enqueued, res.JobID, res.Outcome = true, er.JobID, er.Outcome

		if err := p.targets.TouchLastUsed(ctx, stored, p.now()); err != nil {
			log.Warn("touch target failed", zap.String("target", t.Phone), zap.Error(err))
		}
		log.Debug("forward enqueued",
			zap.String("target", t.Phone),
			zap.String("job_id", er.JobID),
			zap.String("outcome", string(er.Outcome)),
			zap.Int32("endpoint_id", sel.EndpointID),
			zap.String("endpoint_reason", sel.Reason),
		)
		sum.Targets = append(sum.Targets, res)
	}

	return sum, errors.Join(errs...)
}
