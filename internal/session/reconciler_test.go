package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/radius"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
	"github.com/hericahyadi/isp-provisioning-worker/internal/session"
)

type fakeAccounting struct {
	sessions []radius.AccountingSession
	err      error
}

func (a *fakeAccounting) ActiveSessions(ctx context.Context) ([]radius.AccountingSession, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.sessions, nil
}

type fakeRouterStore struct {
	routers []db.Router
	err     error
}

func (s *fakeRouterStore) ListRouters(ctx context.Context) ([]db.Router, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.routers, nil
}

type fakeSessionPool struct {
	sessions map[uuid.UUID][]routeros.LiveSession
	failing  map[uuid.UUID]error
}

func (p *fakeSessionPool) ActiveSessions(ctx context.Context, routerID uuid.UUID) ([]routeros.LiveSession, error) {
	if err, ok := p.failing[routerID]; ok {
		return nil, err
	}
	return p.sessions[routerID], nil
}

func TestActiveSessions_MergesBothViews(t *testing.T) {
	routerA := db.Router{ID: uuid.New(), Name: "edge-1"}
	routerB := db.Router{ID: uuid.New(), Name: "edge-2"}

	accounting := &fakeAccounting{sessions: []radius.AccountingSession{
		{RadAcctID: 1, Username: "alice"},
		{RadAcctID: 2, Username: "bob"},
	}}
	store := &fakeRouterStore{routers: []db.Router{routerA, routerB}}
	pool := &fakeSessionPool{
		sessions: map[uuid.UUID][]routeros.LiveSession{
			routerA.ID: {{Name: "alice", Address: "10.0.0.2"}},
			routerB.ID: {{Name: "bob", Address: "10.0.0.3"}},
		},
		failing: map[uuid.UUID]error{},
	}

	rec := session.NewReconciler(accounting, store, pool, zap.NewNop())

	report, err := rec.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}

	if len(report.Radius) != 2 {
		t.Errorf("Expected 2 accounting sessions, got %d", len(report.Radius))
	}
	if len(report.Routers) != 2 {
		t.Fatalf("Expected 2 router sessions, got %d", len(report.Routers))
	}
	for _, sess := range report.Routers {
		if sess.RouterName == "" {
			t.Errorf("Expected router annotation on session %+v", sess)
		}
	}
	if len(fanout.Failed(report.Results)) != 0 {
		t.Errorf("Expected no router failures, got %+v", report.Results)
	}
}

func TestActiveSessions_UnreachableRouterIsSkipped(t *testing.T) {
	routerA := db.Router{ID: uuid.New(), Name: "edge-1"}
	routerB := db.Router{ID: uuid.New(), Name: "edge-2"}

	accounting := &fakeAccounting{sessions: []radius.AccountingSession{
		{RadAcctID: 1, Username: "alice"},
	}}
	store := &fakeRouterStore{routers: []db.Router{routerA, routerB}}
	pool := &fakeSessionPool{
		sessions: map[uuid.UUID][]routeros.LiveSession{
			routerA.ID: {{Name: "alice"}},
		},
		failing: map[uuid.UUID]error{routerB.ID: errors.New("timeout")},
	}

	rec := session.NewReconciler(accounting, store, pool, zap.NewNop())

	report, err := rec.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("Expected partial report, got error %v", err)
	}

	if len(report.Radius) != 1 {
		t.Errorf("Expected full accounting view, got %d sessions", len(report.Radius))
	}
	if len(report.Routers) != 1 || report.Routers[0].RouterName != "edge-1" {
		t.Errorf("Expected only edge-1 sessions, got %+v", report.Routers)
	}

	failed := fanout.Failed(report.Results)
	if len(failed) != 1 || failed[0].RouterName != "edge-2" {
		t.Errorf("Expected edge-2 recorded as failed, got %+v", failed)
	}
}

func TestActiveSessions_AccountingFailurePropagates(t *testing.T) {
	accounting := &fakeAccounting{err: errors.New("radius db down")}
	store := &fakeRouterStore{}
	pool := &fakeSessionPool{}

	rec := session.NewReconciler(accounting, store, pool, zap.NewNop())

	if _, err := rec.ActiveSessions(context.Background()); err == nil {
		t.Fatal("Expected error when accounting view is unavailable")
	}
}

func TestActiveSessions_RouterListFailureDegradesToRadiusOnly(t *testing.T) {
	accounting := &fakeAccounting{sessions: []radius.AccountingSession{
		{RadAcctID: 1, Username: "alice"},
	}}
	store := &fakeRouterStore{err: errors.New("db down")}
	pool := &fakeSessionPool{}

	rec := session.NewReconciler(accounting, store, pool, zap.NewNop())

	report, err := rec.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("Expected degraded report, got error %v", err)
	}
	if len(report.Radius) != 1 {
		t.Errorf("Expected accounting view, got %d sessions", len(report.Radius))
	}
	if len(report.Routers) != 0 || len(report.Results) != 0 {
		t.Errorf("Expected empty router view, got %+v", report)
	}
}
