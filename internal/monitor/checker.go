// Package monitor runs the periodic connectivity check over the router
// fleet. Contacting every router through the pool refreshes each
// router's online/offline status as a side effect; the statistics read
// back are cached for the reporting surface.
package monitor

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
)

// RouterStore lists the registered routers
type RouterStore interface {
	ListRouters(ctx context.Context) ([]db.Router, error)
}

// StatsSource reads live statistics from a router
type StatsSource interface {
	Statistics(ctx context.Context, routerID uuid.UUID) (*routeros.Statistics, error)
}

// Cache stores statistics snapshots
type Cache interface {
	Save(ctx context.Context, routerID uuid.UUID, stats *routeros.Statistics) error
}

// Checker sweeps the router fleet
type Checker struct {
	store  RouterStore
	source StatsSource
	cache  Cache
	logger *zap.Logger
}

// NewChecker creates a connectivity checker
func NewChecker(store RouterStore, source StatsSource, cache Cache, logger *zap.Logger) *Checker {
	return &Checker{
		store:  store,
		source: source,
		cache:  cache,
		logger: logger,
	}
}

// Sweep contacts every registered router concurrently. Each reachable
// router gets its statistics cached; each unreachable one is already
// marked offline by the pool. Per-router failures never abort the
// sweep.
func (c *Checker) Sweep(ctx context.Context) ([]fanout.Result, error) {
	routers, err := c.store.ListRouters(ctx)
	if err != nil {
		return nil, err
	}

	results := fanout.Run(routers, func(_ int, router db.Router) error {
		stats, err := c.source.Statistics(ctx, router.ID)
		if err != nil {
			return err
		}

		if err := c.cache.Save(ctx, router.ID, stats); err != nil {
			c.logger.Warn("failed to cache router statistics",
				zap.String("router_id", router.ID.String()), zap.Error(err))
		}
		return nil
	})

	failed := fanout.Failed(results)
	for _, r := range failed {
		c.logger.Warn("router unreachable during connectivity check",
			zap.String("router_id", r.RouterID.String()),
			zap.String("router_name", r.RouterName),
			zap.Error(r.Err))
	}

	c.logger.Info("router connectivity sweep finished",
		zap.Int("routers", len(results)),
		zap.Int("unreachable", len(failed)))

	return results, nil
}
