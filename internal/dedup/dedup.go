// Package dedup suppresses inbound events the device reports more than once.
package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/maypok86/otter"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"
)

// Store remembers keys for a TTL.
type Store interface {
	// Seen marks key and reports whether it was already marked.
	Seen(ctx context.Context, key string) (bool, error)
	// Forget drops a mark so a failed ingest can be retried.
	Forget(ctx context.Context, key string) error
}

// Key identifies an inbound event by sender, timestamp, body and source
// endpoint.
func Key(m model.InboundMessage) string {
	b := make([]byte, 0, len(m.Sender)+len(m.Body)+40)
	b = append(b, m.Sender...)
	b = append(b, '|')
	b = strconv.AppendInt(b, m.Timestamp.UnixMilli(), 10)
	b = append(b, '|')
	b = append(b, m.Body...)
	b = append(b, '|')
	b = strconv.AppendInt(b, int64(m.SourceEndpointID), 10)
	h := xxh3.Hash128(b)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Memory keeps keys in a bounded in-process cache.
type Memory struct {
	cache otter.Cache[string, struct{}]
}

func NewMemory(maxEntries int, ttl time.Duration) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, err := otter.MustBuilder[string, struct{}](maxEntries).
		Cost(func(_ string, _ struct{}) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &Memory{cache: c}, nil
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	return !m.cache.SetIfAbsent(key, struct{}{}), nil
}

func (m *Memory) Forget(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Redis shares marks between processes with SET NX.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup redis: %w", err)
	}
	return !ok, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("dedup redis: %w", err)
	}
	return nil
}

// New builds the configured store; nil when dedup is disabled.
func New(cfg config.DedupConfig, rdb *redis.Client) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("dedup: redis backend needs redis.enabled")
		}
		return NewRedis(rdb, cfg.KeyPrefix, ttl), nil
	case "memory", "":
		m, err := NewMemory(cfg.MaxEntries, ttl)
		if err != nil {
			return nil, fmt.Errorf("dedup: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("dedup: unknown backend %q", cfg.Backend)
	}
}
