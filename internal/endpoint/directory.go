package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"go.uber.org/zap"
)

const DefaultCacheTTL = 5 * time.Second

type cachedSnapshot struct {
	snap      Snapshot
	fetchedAt time.Time
	ok        bool
}

// Directory caches the source's snapshot for ttl. An expired entry is never
// served, even when the refetch fails.
type Directory struct {
	src    Source
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	entry cachedSnapshot
}

func NewDirectory(src Source, ttl time.Duration, now func() time.Time, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{src: src, ttl: ttl, now: now, logger: logger}
}

func (d *Directory) Snapshot(ctx context.Context) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.entry.ok && now.Sub(d.entry.fetchedAt) < d.ttl {
		return d.entry.snap, nil
	}

	snap, err := d.src.Fetch(ctx)
	if err != nil {
		d.entry = cachedSnapshot{}
		metrics.EndpointRefreshTotal.WithLabelValues("error").Inc()
		return Snapshot{}, fmt.Errorf("endpoint directory: %w", err)
	}
	d.entry = cachedSnapshot{snap: snap, fetchedAt: now, ok: true}
	metrics.EndpointRefreshTotal.WithLabelValues("ok").Inc()
	metrics.ActiveEndpoints.Set(float64(len(snap.Active())))
	return snap, nil
}

// Active returns only the active endpoints.
func (d *Directory) Active(ctx context.Context) ([]model.Endpoint, error) {
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Active(), nil
}

func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.entry = cachedSnapshot{}
	d.mu.Unlock()
}

// Refresh drops the cached snapshot and fetches a new one.
func (d *Directory) Refresh(ctx context.Context) error {
	d.Invalidate()
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return err
	}
	d.logger.Debug("endpoint directory refreshed",
		zap.Int("endpoints", len(snap.Endpoints)),
		zap.Int32("default_id", snap.DefaultID),
	)
	return nil
}
