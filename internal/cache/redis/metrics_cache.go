package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outcomelabs/settle/internal/domain"
)

const metricsTTL = 30 * time.Second

// ErrMiss is returned when a requested cache entry does not exist. Callers
// recompute on any error, so a miss carries no further detail.
var ErrMiss = errors.New("redis: cache miss")

// MetricsCache implements domain.MetricsCache using JSON-serialized
// resolution metrics under short-TTL string keys.
//
// Key schema:
//
//	metrics:{marketID}:{outcome} - JSON-encoded ResolutionMetrics
type MetricsCache struct {
	rdb *redis.Client
}

// NewMetricsCache creates a MetricsCache backed by the given Client.
func NewMetricsCache(c *Client) *MetricsCache {
	return &MetricsCache{rdb: c.Underlying()}
}

func metricsKey(marketID uint64, outcome int) string {
	return fmt.Sprintf("metrics:%d:%d", marketID, outcome)
}

// Set stores resolution metrics with a short TTL. Metrics change with every
// bet and trade, so the TTL only has to cover a burst of reads.
func (mc *MetricsCache) Set(ctx context.Context, m domain.ResolutionMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal metrics %d/%d: %w", m.MarketID, m.Outcome, err)
	}
	if err := mc.rdb.Set(ctx, metricsKey(m.MarketID, m.Outcome), data, metricsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set metrics %d/%d: %w", m.MarketID, m.Outcome, err)
	}
	return nil
}

// Get retrieves cached metrics for one (market, outcome) pair. It returns
// ErrMiss when the key does not exist.
func (mc *MetricsCache) Get(ctx context.Context, marketID uint64, outcome int) (domain.ResolutionMetrics, error) {
	data, err := mc.rdb.Get(ctx, metricsKey(marketID, outcome)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ResolutionMetrics{}, ErrMiss
		}
		return domain.ResolutionMetrics{}, fmt.Errorf("redis: get metrics %d/%d: %w", marketID, outcome, err)
	}

	var m domain.ResolutionMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.ResolutionMetrics{}, fmt.Errorf("redis: unmarshal metrics %d/%d: %w", marketID, outcome, err)
	}
	return m, nil
}

// Invalidate drops every cached outcome entry of a market.
func (mc *MetricsCache) Invalidate(ctx context.Context, marketID uint64) error {
	var (
		cursor uint64
		match  = fmt.Sprintf("metrics:%d:*", marketID)
	)
	for {
		keys, next, err := mc.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("redis: scan metrics %d: %w", marketID, err)
		}
		if len(keys) > 0 {
			if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis: invalidate metrics %d: %w", marketID, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Compile-time interface check.
var _ domain.MetricsCache = (*MetricsCache)(nil)
