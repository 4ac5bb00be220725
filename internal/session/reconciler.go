// Package session merges the two independently collected views of live
// subscriber sessions: the RADIUS accounting table and the per-router
// live session lists. The views share no enforced correlation key, so
// they are returned side by side, unmerged.
package session

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/radius"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
)

// AccountingStore is the RADIUS accounting view
type AccountingStore interface {
	ActiveSessions(ctx context.Context) ([]radius.AccountingSession, error)
}

// RouterStore lists the registered routers
type RouterStore interface {
	ListRouters(ctx context.Context) ([]db.Router, error)
}

// RouterPool is the live session query surface of the connection pool
type RouterPool interface {
	ActiveSessions(ctx context.Context, routerID uuid.UUID) ([]routeros.LiveSession, error)
}

// RouterSession is a live router session annotated with its source
type RouterSession struct {
	RouterID   uuid.UUID
	RouterName string
	routeros.LiveSession
}

// Report holds the two unmerged session views plus the per-router
// collection outcomes.
type Report struct {
	Radius  []radius.AccountingSession
	Routers []RouterSession
	Results []fanout.Result
}

// Reconciler collects session state from both sources
type Reconciler struct {
	accounting AccountingStore
	store      RouterStore
	pool       RouterPool
	logger     *zap.Logger
}

// NewReconciler creates a session reconciler
func NewReconciler(accounting AccountingStore, store RouterStore, pool RouterPool, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		accounting: accounting,
		store:      store,
		pool:       pool,
		logger:     logger,
	}
}

// ActiveSessions returns the full RADIUS accounting view plus live
// sessions from every reachable router. A per-router failure is logged
// and skipped, never propagated.
func (r *Reconciler) ActiveSessions(ctx context.Context) (*Report, error) {
	accountingSessions, err := r.accounting.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Radius: accountingSessions}

	routers, err := r.store.ListRouters(ctx)
	if err != nil {
		r.logger.Error("failed to list routers for session query", zap.Error(err))
		return report, nil
	}

	perRouter := make([][]routeros.LiveSession, len(routers))
	report.Results = fanout.Run(routers, func(i int, router db.Router) error {
		sessions, err := r.pool.ActiveSessions(ctx, router.ID)
		if err != nil {
			return err
		}
		perRouter[i] = sessions
		return nil
	})

	for i, router := range routers {
		for _, sess := range perRouter[i] {
			report.Routers = append(report.Routers, RouterSession{
				RouterID:    router.ID,
				RouterName:  router.Name,
				LiveSession: sess,
			})
		}
	}

	for _, res := range fanout.Failed(report.Results) {
		r.logger.Warn("skipped unreachable router during session query",
			zap.String("router_id", res.RouterID.String()),
			zap.String("router_name", res.RouterName),
			zap.Error(res.Err))
	}

	return report, nil
}
