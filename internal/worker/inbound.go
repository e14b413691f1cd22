package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/sms-forwarder/internal/kafka"
	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/service/ingest"
	"go.uber.org/zap"
)

// MessageSource is the consumer side of the inbound topic.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type Ingester interface {
	IngestWithPriority(ctx context.Context, m model.InboundMessage, p model.Priority) (ingest.Summary, error)
}

// InboundConsumer feeds inbound events from Kafka into the ingest pipeline.
// Messages are handled one at a time so offsets commit in order. An offset is
// committed once its message is ingested or found malformed; a failing ingest
// is retried until it succeeds or the consumer stops.
type InboundConsumer struct {
	Source   MessageSource
	Pipeline Ingester
	Logger   *zap.Logger

	validate  *validator.Validate
	now       func() time.Time
	retryBase time.Duration
	retryMax  time.Duration
}

func NewInboundConsumer(src MessageSource, p Ingester, logger *zap.Logger) *InboundConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboundConsumer{
		Source:    src,
		Pipeline:  p,
		Logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
		retryBase: 200 * time.Millisecond,
		retryMax:  10 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (c *InboundConsumer) Run(ctx context.Context) error {
	if c.Source == nil || c.Pipeline == nil {
		return errors.New("inbound consumer: source and pipeline are required")
	}
	for {
		m, err := c.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		if !c.process(ctx, m) {
			// stopped mid-retry; the uncommitted offset is redelivered
			return nil
		}
		if err := c.Source.Commit(ctx, m); err != nil && ctx.Err() == nil {
			c.Logger.Warn("kafka commit failed", zap.Error(err), zap.Int64("offset", m.Offset))
		}
	}
}

// process handles m until it no longer needs a retry. It reports false when
// ctx ended first.
func (c *InboundConsumer) process(ctx context.Context, m kafka.Message) bool {
	delay := c.retryBase
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, m)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.Logger.Warn("ingest failed, retrying",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay = min(delay*2, c.retryMax)
	}
}

// handle returns an error only when the message should be retried. Malformed
// events are counted and dropped.
func (c *InboundConsumer) handle(ctx context.Context, m kafka.Message) error {
	log := c.Logger.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	var env model.InboundEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		metrics.InboundTotal.WithLabelValues("invalid").Inc()
		log.Warn("bad inbound json, skipped", zap.Error(err))
		return nil
	}
	if err := c.validate.Struct(&env); err != nil {
		metrics.InboundTotal.WithLabelValues("invalid").Inc()
		log.Warn("invalid inbound event, skipped", zap.Error(err))
		return nil
	}
	prio, _ := model.ParsePriority(env.Priority)

	sum, err := c.Pipeline.IngestWithPriority(ctx, env.Message(c.now()), prio)
	if err != nil {
		return err
	}
	enq, blocked := sum.Counts()
	log.Debug("inbound ingested",
		zap.Bool("duplicate", sum.Duplicate),
		zap.Int("enqueued", enq),
		zap.Int("blocked", blocked),
	)
	return nil
}
