package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hericahyadi/isp-provisioning-worker/internal/config"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
)

// StatsCache keeps the latest statistics snapshot per router in redis
// with a TTL, so stale entries age out when a router stops responding.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache creates a redis-backed statistics cache
func NewStatsCache(cfg config.RedisConfig) *StatsCache {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      5,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
	})

	return &StatsCache{
		client: client,
		ttl:    time.Duration(cfg.StatsTTLMinutes) * time.Minute,
	}
}

func statsKey(routerID uuid.UUID) string {
	return fmt.Sprintf("router:stats:%s", routerID)
}

// Save stores the statistics snapshot for a router
func (c *StatsCache) Save(ctx context.Context, routerID uuid.UUID, stats *routeros.Statistics) error {
	value, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	if err := c.client.Set(ctx, statsKey(routerID), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache statistics: %w", err)
	}

	return nil
}

// Get returns the cached snapshot, or nil when none is cached
func (c *StatsCache) Get(ctx context.Context, routerID uuid.UUID) (*routeros.Statistics, error) {
	value, err := c.client.Get(ctx, statsKey(routerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached statistics: %w", err)
	}

	var stats routeros.Statistics
	if err := json.Unmarshal(value, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached statistics: %w", err)
	}

	return &stats, nil
}

// Close releases the redis connection
func (c *StatsCache) Close() error {
	return c.client.Close()
}
