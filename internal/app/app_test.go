package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.DSN = "file:" + filepath.Join(t.TempDir(), "smsfwd.db")
	cfg.Endpoints.Static = []config.EndpointConfig{
		{SubscriptionID: 11, Slot: 0, Active: true},
		{SubscriptionID: 22, Slot: 1, Active: true},
	}
	cfg.Endpoints.DefaultSubscriptionID = 11
	return cfg
}

func TestQueueOptions(t *testing.T) {
	opts := QueueOptions(config.QueueConfig{
		MaxRetry:    5,
		BackoffBase: time.Second,
		Delays:      config.TierDelays{High: 0, Normal: time.Second, Low: 5 * time.Second},
	})
	assert.Equal(t, 5, opts.Retry.MaxRetry)
	assert.Equal(t, time.Second, opts.Retry.BackoffBase)
	assert.Equal(t, 5*time.Second, opts.Delays[model.PriorityLow])
	assert.Equal(t, time.Duration(0), opts.Delays[model.PriorityHigh])

	def := QueueOptions(config.QueueConfig{})
	assert.Equal(t, 3, def.Retry.MaxRetry)
	assert.Equal(t, 2*time.Second, def.Retry.BackoffBase)
}

func TestNewWiresServices(t *testing.T) {
	a, err := New(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	require.NoError(t, a.Targets.Upsert(ctx, model.TargetAddress{
		Phone:         "+905552222222",
		Enabled:       true,
		PreferredSlot: model.NoPreferredSlot,
		SelectionMode: model.SelectionSpecificSIM,
	}))

	sum, err := a.Pipeline.IngestUrgent(ctx, model.InboundMessage{
		Sender:           "+905551111111",
		Body:             "otp 1234",
		SourceEndpointID: 22,
		SourceSlot:       1,
	})
	require.NoError(t, err)
	require.Len(t, sum.Targets, 1)
	assert.True(t, sum.Targets[0].Enqueued)
	// specific_sim without a preferred slot falls back to the system default
	assert.Equal(t, int32(11), sum.Targets[0].EndpointID)

	pending, err := a.Queue.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.PriorityHigh, pending[0].Priority)

	// the same event again is suppressed
	sum, err = a.Pipeline.IngestUrgent(ctx, model.InboundMessage{
		Sender:           "+905551111111",
		Body:             "otp 1234",
		Timestamp:        pending[0].ReceivedAt,
		SourceEndpointID: 22,
		SourceSlot:       1,
	})
	require.NoError(t, err)
	assert.True(t, sum.Duplicate)

	require.NoError(t, a.RecoverAll(ctx))

	d := a.Dispatcher()
	assert.Equal(t, 3, d.Workers)
	assert.Equal(t, 30*time.Second, d.SendTimeout)

	s, err := a.Maintenance()
	require.NoError(t, err)
	require.NotNil(t, s)

	rec := httptest.NewRecorder()
	a.HTTPServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/endpoints", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsBadEndpointSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Endpoints.Source = "carrier-pigeon"
	_, err := New(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}
