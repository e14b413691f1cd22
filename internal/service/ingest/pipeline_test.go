package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/dedup"
	"github.com/jmehdipour/sms-forwarder/internal/endpoint"
	"github.com/jmehdipour/sms-forwarder/internal/filter"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/service/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTargets struct {
	list    []model.TargetAddress
	err     error
	fails   int // ListEnabled calls that fail before err is used
	mu      sync.Mutex
	touched []string
}

func (f *fakeTargets) ListEnabled(context.Context) ([]model.TargetAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("store busy")
	}
	return f.list, f.err
}

func (f *fakeTargets) TouchLastUsed(_ context.Context, phone string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, phone)
	return nil
}

type evaluatorFunc func(filter.Input) filter.Decision

func (f evaluatorFunc) Evaluate(_ context.Context, in filter.Input) filter.Decision { return f(in) }

type fixedResolver endpoint.Selection

func (r fixedResolver) Resolve(context.Context, model.TargetAddress, int32) endpoint.Selection {
	return endpoint.Selection(r)
}

type fakeQueue struct {
	reqs  []queue.Request
	err   error
	fails int
}

func (q *fakeQueue) Enqueue(_ context.Context, req queue.Request) (queue.EnqueueResult, error) {
	if q.fails > 0 {
		q.fails--
		return queue.EnqueueResult{}, errors.New("database is locked")
	}
	if q.err != nil {
		return queue.EnqueueResult{}, q.err
	}
	q.reqs = append(q.reqs, req)
	return queue.EnqueueResult{JobID: "J" + req.Target, Outcome: queue.OutcomeEnqueued}, nil
}

var allowAll = evaluatorFunc(func(filter.Input) filter.Decision {
	return filter.Decision{Allow: true, Reason: filter.ReasonNoFilters}
})

func inbound(body string) model.InboundMessage {
	return model.InboundMessage{
		Sender:           "05551111111",
		Body:             body,
		Timestamp:        time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC),
		SourceEndpointID: 11,
		SourceSlot:       1,
	}
}

func newPipeline(t *testing.T, targets *fakeTargets, ev Evaluator, q *fakeQueue, dd dedup.Store) *Pipeline {
	t.Helper()
	return NewPipeline(targets, ev,
		fixedResolver{EndpointID: 22, Slot: 1, Reason: endpoint.ReasonSourceEndpoint, Valid: true},
		q, dd, NewFormatter("{slot} [{sender}] {body}", time.UTC),
		Options{CountryCode: "90"}, zaptest.NewLogger(t))
}

func TestIngestEnqueuesPerTarget(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{
		{Phone: "+905559999999", Enabled: true},
		{Phone: "0555 888 88 88", Enabled: true},
	}}
	q := &fakeQueue{}
	p := newPipeline(t, targets, allowAll, q, nil)

	sum, err := p.Ingest(context.Background(), inbound("hello"))
	require.NoError(t, err)
	enq, blocked := sum.Counts()
	assert.Equal(t, 2, enq)
	assert.Zero(t, blocked)
	assert.Equal(t, model.PriorityNormal, sum.Priority)

	require.Len(t, q.reqs, 2)
	r := q.reqs[0]
	assert.Equal(t, "+905551111111", r.Sender)
	assert.Equal(t, "hello", r.Body)
	assert.Equal(t, "SIM2 [+905551111111] hello", r.ForwardBody)
	assert.Equal(t, int32(22), r.EndpointID)
	assert.Equal(t, int32(11), r.SourceEndpointID)
	assert.Equal(t, model.DefaultJobTag, r.Tag)
	assert.Equal(t, "+905558888888", q.reqs[1].Target)

	assert.Equal(t, []string{"+905559999999", "0555 888 88 88"}, targets.touched)
}

func TestIngestPriorities(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	q := &fakeQueue{}
	p := newPipeline(t, targets, allowAll, q, nil)
	ctx := context.Background()

	_, err := p.IngestUrgent(ctx, inbound("a"))
	require.NoError(t, err)
	_, err = p.IngestDeferred(ctx, inbound("b"))
	require.NoError(t, err)
	_, err = p.IngestWithPriority(ctx, inbound("c"), model.Priority("asap"))
	assert.Error(t, err)

	require.Len(t, q.reqs, 2)
	assert.Equal(t, model.PriorityHigh, q.reqs[0].Priority)
	assert.Equal(t, model.PriorityLow, q.reqs[1].Priority)
}

func TestIngestBlocked(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	q := &fakeQueue{}
	block := evaluatorFunc(func(in filter.Input) filter.Decision {
		assert.Equal(t, "+905551111111", in.Sender)
		assert.Equal(t, int32(1), in.SourceSlot)
		return filter.Decision{Allow: false, Reason: `rule "spam" (SPAM_DETECTION) matched`}
	})
	p := newPipeline(t, targets, block, q, nil)

	sum, err := p.Ingest(context.Background(), inbound("WIN A PRIZE"))
	require.NoError(t, err)
	_, blocked := sum.Counts()
	assert.Equal(t, 1, blocked)
	assert.Empty(t, q.reqs)
	assert.Empty(t, targets.touched)
}

func TestIngestSkipsSelfTarget(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905551111111", Enabled: true}}}
	q := &fakeQueue{}
	p := newPipeline(t, targets, allowAll, q, nil)

	sum, err := p.Ingest(context.Background(), inbound("loop"))
	require.NoError(t, err)
	require.Len(t, sum.Targets, 1)
	assert.Equal(t, ReasonSelfTarget, sum.Targets[0].Reason)
	assert.Empty(t, q.reqs)
}

func TestIngestSuppressesDuplicates(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	q := &fakeQueue{}
	dd, err := dedup.NewMemory(100, time.Minute)
	require.NoError(t, err)
	p := newPipeline(t, targets, allowAll, q, dd)

	first, err := p.Ingest(context.Background(), inbound("otp 1234"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := p.Ingest(context.Background(), inbound("otp 1234"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Len(t, q.reqs, 1)
}

func TestIngestRetryAfterTargetsErrorIsNotDuplicate(t *testing.T) {
	targets := &fakeTargets{fails: 1, list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	q := &fakeQueue{}
	dd, err := dedup.NewMemory(100, time.Minute)
	require.NoError(t, err)
	p := newPipeline(t, targets, allowAll, q, dd)

	_, err = p.Ingest(context.Background(), inbound("otp 1234"))
	require.Error(t, err)
	assert.Empty(t, q.reqs)

	sum, err := p.Ingest(context.Background(), inbound("otp 1234"))
	require.NoError(t, err)
	assert.False(t, sum.Duplicate)
	assert.Len(t, q.reqs, 1)

	again, err := p.Ingest(context.Background(), inbound("otp 1234"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, q.reqs, 1)
}

func TestIngestRetryAfterEnqueueErrorIsNotDuplicate(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	q := &fakeQueue{fails: 1}
	dd, err := dedup.NewMemory(100, time.Minute)
	require.NoError(t, err)
	p := newPipeline(t, targets, allowAll, q, dd)

	_, err = p.Ingest(context.Background(), inbound("otp 1234"))
	require.ErrorContains(t, err, "database is locked")

	sum, err := p.Ingest(context.Background(), inbound("otp 1234"))
	require.NoError(t, err)
	assert.False(t, sum.Duplicate)
	assert.Len(t, q.reqs, 1)
}

func TestIngestEvaluatesRulesOncePerMessage(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{
		{Phone: "+905559999999", Enabled: true},
		{Phone: "+905558888888", Enabled: true},
		{Phone: "+905557777777", Enabled: true},
	}}
	q := &fakeQueue{}
	calls := 0
	ev := evaluatorFunc(func(filter.Input) filter.Decision {
		calls++
		return filter.Decision{Allow: true, Reason: filter.ReasonNoMatch}
	})
	p := newPipeline(t, targets, ev, q, nil)

	sum, err := p.Ingest(context.Background(), inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, q.reqs, 3)
	for _, r := range sum.Targets {
		assert.Equal(t, filter.ReasonNoMatch, r.Reason)
	}
}

func TestIngestKeepsAlphanumericSender(t *testing.T) {
	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	q := &fakeQueue{}
	var got string
	ev := evaluatorFunc(func(in filter.Input) filter.Decision {
		got = in.Sender
		return filter.Decision{Allow: true}
	})
	p := newPipeline(t, targets, ev, q, nil)

	m := inbound("your code")
	m.Sender = "BIM2024"
	_, err := p.Ingest(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "BIM2024", got)
	require.Len(t, q.reqs, 1)
	assert.Equal(t, "BIM2024", q.reqs[0].Sender)
}

func TestIngestNoTargets(t *testing.T) {
	q := &fakeQueue{}
	p := newPipeline(t, &fakeTargets{}, allowAll, q, nil)

	sum, err := p.Ingest(context.Background(), inbound("x"))
	require.NoError(t, err)
	assert.Empty(t, sum.Targets)
}

func TestIngestErrors(t *testing.T) {
	p := newPipeline(t, &fakeTargets{err: errors.New("db down")}, allowAll, &fakeQueue{}, nil)
	_, err := p.Ingest(context.Background(), inbound("x"))
	assert.Error(t, err)

	targets := &fakeTargets{list: []model.TargetAddress{{Phone: "+905559999999", Enabled: true}}}
	p = newPipeline(t, targets, allowAll, &fakeQueue{err: errors.New("disk full")}, nil)
	sum, err := p.Ingest(context.Background(), inbound("x"))
	assert.ErrorContains(t, err, "disk full")
	require.Len(t, sum.Targets, 1)
	assert.False(t, sum.Targets[0].Enqueued)
	assert.Empty(t, targets.touched)
}

func TestFormatter(t *testing.T) {
	m := inbound("hi")
	m.Sender = "+905551111111"
	assert.Equal(t, "[+905551111111] hi", NewFormatter("", time.UTC).Format(m))
	assert.Equal(t, "2026-03-04 10:30 SIM2: hi", NewFormatter("{time} {slot}: {body}", time.UTC).Format(m))

	m.SourceSlot = model.UnknownEndpoint
	assert.Equal(t, "|hi", NewFormatter("{slot}|{body}", time.UTC).Format(m))
}
