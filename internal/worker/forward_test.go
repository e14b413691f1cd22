package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/endpoint"
	"github.com/jmehdipour/sms-forwarder/internal/filter"
	"github.com/jmehdipour/sms-forwarder/internal/kafka"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/jmehdipour/sms-forwarder/internal/service/ingest"
	"github.com/jmehdipour/sms-forwarder/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newForwardPipeline(t *testing.T, h *harness) *ingest.Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)

	src := endpoint.NewStaticSource(config.EndpointsConfig{
		DefaultSubscriptionID: 11,
		Static: []config.EndpointConfig{
			{SubscriptionID: 11, Slot: 0, Carrier: "Turkcell", Active: true},
			{SubscriptionID: 22, Slot: 1, Carrier: "Vodafone", Active: true},
		},
	})
	dir := endpoint.NewDirectory(src, time.Minute, nil, logger)
	resolver := endpoint.NewResolver(dir, model.SelectionAuto, logger)

	rules := repository.NewRulesRepository(h.dbx)
	engine, err := filter.NewEngine(rules, dir, filter.Options{Location: time.UTC}, logger)
	require.NoError(t, err)
	t.Cleanup(engine.Wait)

	targets := repository.NewTargetsRepository(h.dbx)
	require.NoError(t, targets.Upsert(context.Background(), model.TargetAddress{
		Phone:         "+905552222222",
		Enabled:       true,
		Primary:       true,
		PreferredSlot: model.NoPreferredSlot,
		SelectionMode: model.SelectionSourceSIM,
	}))

	return ingest.NewPipeline(targets, engine, resolver, h.q, nil,
		ingest.NewFormatter(ingest.DefaultTemplate, time.UTC),
		ingest.Options{CountryCode: "90"}, logger)
}

func TestForwardFromSourceEndpoint(t *testing.T) {
	h := newHarness(t)
	p := newForwardPipeline(t, h)
	tr := &fakeTransport{respond: always(transport.CodeOK)}
	stop := start(t, newTestDispatcher(t, h, tr))

	sum, err := p.Ingest(context.Background(), model.InboundMessage{
		Sender:           "+905551111111",
		Body:             "code 4821",
		Timestamp:        time.Now(),
		SourceEndpointID: 22,
		SourceSlot:       1,
	})
	require.NoError(t, err)
	require.Len(t, sum.Targets, 1)
	assert.True(t, sum.Targets[0].Enqueued)
	assert.Equal(t, int32(22), sum.Targets[0].EndpointID)

	require.Eventually(t, func() bool { return len(h.records(t)) == 1 }, 3*time.Second, 10*time.Millisecond)
	stop()

	recs := h.records(t)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.True(t, rec.Success)
	assert.Equal(t, "+905552222222", rec.Target)
	assert.Equal(t, "code 4821", rec.OriginalBody)
	assert.Equal(t, "[+905551111111] code 4821", rec.ForwardedBody)
	assert.Equal(t, int32(22), rec.ForwardingEndpointID)
	assert.Equal(t, int32(1), rec.ForwardingSlot)
	assert.Equal(t, int32(22), rec.SourceEndpointID)

	assert.Equal(t, 1, tr.callCount())
	assert.Equal(t, int32(22), tr.lastCall().endpointID)
}

func TestForwardBlockedByRule(t *testing.T) {
	h := newHarness(t)
	p := newForwardPipeline(t, h)
	_, err := repository.NewRulesRepository(h.dbx).Insert(context.Background(), model.FilterRule{
		Name:    "no promos",
		Type:    model.RuleKeyword,
		Pattern: "promo",
		Action:  model.ActionBlock,
		Enabled: true,
	})
	require.NoError(t, err)

	sum, err := p.Ingest(context.Background(), model.InboundMessage{
		Sender:           "+905551111111",
		Body:             "big PROMO today",
		SourceEndpointID: 11,
		SourceSlot:       0,
	})
	require.NoError(t, err)
	enq, blocked := sum.Counts()
	assert.Equal(t, 0, enq)
	assert.Equal(t, 1, blocked)

	pending, err := h.q.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type fakeSource struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	done      chan struct{}
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *fakeSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, m.Offset)
	if len(s.msgs) == 0 && s.done != nil {
		close(s.done)
		s.done = nil
	}
	return nil
}

type recordingIngester struct {
	mu    sync.Mutex
	msgs  []model.InboundMessage
	prios []model.Priority
	fails int // calls that fail before success; negative fails forever
}

func (r *recordingIngester) IngestWithPriority(_ context.Context, m model.InboundMessage, p model.Priority) (ingest.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	r.prios = append(r.prios, p)
	if r.fails != 0 {
		if r.fails > 0 {
			r.fails--
		}
		return ingest.Summary{}, errors.New("store down")
	}
	return ingest.Summary{Priority: p}, nil
}

func (r *recordingIngester) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (s *fakeSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

func envelope(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func runInbound(t *testing.T, src *fakeSource, ing Ingester) {
	t.Helper()
	src.done = make(chan struct{})
	done := src.done
	c := NewInboundConsumer(src, ing, zaptest.NewLogger(t))
	c.retryBase, c.retryMax = time.Millisecond, 4*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("messages were not all committed")
	}
	cancel()
	require.NoError(t, <-errc)
}

func TestInboundConsumer(t *testing.T) {
	slot := int32(1)
	src := &fakeSource{msgs: []kafka.Message{
		{Offset: 1, Value: envelope(t, map[string]any{
			"sender": "+905551111111", "body": "hi", "timestamp_ms": 1760000000000,
			"source_endpoint_id": 22, "source_slot": slot, "priority": "high",
		})},
		{Offset: 2, Value: []byte("{not json")},
		{Offset: 3, Value: envelope(t, map[string]any{"sender": "", "body": "missing sender"})},
		{Offset: 4, Value: envelope(t, map[string]any{"sender": "+905551111111", "body": "plain"})},
	}}
	ing := &recordingIngester{}
	runInbound(t, src, ing)

	assert.Equal(t, []int64{1, 2, 3, 4}, src.committed)
	require.Len(t, ing.msgs, 2)

	assert.Equal(t, model.PriorityHigh, ing.prios[0])
	assert.Equal(t, int32(22), ing.msgs[0].SourceEndpointID)
	assert.Equal(t, int32(1), ing.msgs[0].SourceSlot)
	assert.Equal(t, time.UnixMilli(1760000000000), ing.msgs[0].Timestamp)

	assert.Equal(t, model.PriorityNormal, ing.prios[1])
	assert.Equal(t, model.UnknownEndpoint, ing.msgs[1].SourceEndpointID)
	assert.False(t, ing.msgs[1].Timestamp.IsZero())
}

func TestInboundConsumerRetriesIngestErrorBeforeCommit(t *testing.T) {
	src := &fakeSource{msgs: []kafka.Message{
		{Offset: 7, Value: envelope(t, map[string]any{"sender": "+905551111111", "body": "hi"})},
		{Offset: 8, Value: envelope(t, map[string]any{"sender": "+905551111111", "body": "next"})},
	}}
	ing := &recordingIngester{fails: 2}
	runInbound(t, src, ing)

	assert.Equal(t, []int64{7, 8}, src.committed)
	require.Len(t, ing.msgs, 4)
	assert.Equal(t, "hi", ing.msgs[2].Body)
	assert.Equal(t, "next", ing.msgs[3].Body)
}

func TestInboundConsumerStopsWithoutCommitWhileFailing(t *testing.T) {
	src := &fakeSource{msgs: []kafka.Message{
		{Offset: 9, Value: envelope(t, map[string]any{"sender": "+905551111111", "body": "hi"})},
	}}
	ing := &recordingIngester{fails: -1}
	c := NewInboundConsumer(src, ing, zaptest.NewLogger(t))
	c.retryBase, c.retryMax = time.Millisecond, 2*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return ing.calls() >= 3 }, 3*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	assert.Empty(t, src.commits())
}
