package routeros_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
)

type fakeConn struct {
	probeErr error
	replies  map[string][]map[string]string
	commands []string
	closed   bool
}

func (c *fakeConn) Run(command string, args ...string) ([]map[string]string, error) {
	c.commands = append(c.commands, command)
	if command == "/system/identity/print" && c.probeErr != nil {
		return nil, c.probeErr
	}
	return c.replies[command], nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeRouterStore struct {
	routers  map[uuid.UUID]*db.Router
	statuses []string
}

func (s *fakeRouterStore) GetRouter(ctx context.Context, id uuid.UUID) (*db.Router, error) {
	router, ok := s.routers[id]
	if !ok {
		return nil, fault.NotFound("router", id)
	}
	return router, nil
}

func (s *fakeRouterStore) SetRouterStatus(ctx context.Context, id uuid.UUID, status string, lastSync *time.Time) error {
	s.statuses = append(s.statuses, status)
	if router, ok := s.routers[id]; ok {
		router.Status = status
	}
	return nil
}

type fakeDialer struct {
	conns   []*fakeConn
	dialErr error
	dialed  int
}

func (d *fakeDialer) dial(addr, username, password string, timeout time.Duration) (routeros.Conn, error) {
	d.dialed++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := &fakeConn{replies: map[string][]map[string]string{}}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func newTestRouter() *db.Router {
	return &db.Router{
		ID:        uuid.New(),
		Name:      "edge-1",
		IPAddress: "10.0.0.1",
		Username:  "admin",
		Password:  "secret",
		APIPort:   8728,
		Status:    db.RouterOffline,
	}
}

func TestGet_DialsOnceAndReusesHealthyConnection(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	dialer := &fakeDialer{}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	ctx := context.Background()
	first, err := pool.Get(ctx, router.ID)
	if err != nil {
		t.Fatalf("Expected connection, got error: %v", err)
	}

	second, err := pool.Get(ctx, router.ID)
	if err != nil {
		t.Fatalf("Expected cached connection, got error: %v", err)
	}

	if first != second {
		t.Error("Expected the cached connection to be reused")
	}
	if dialer.dialed != 1 {
		t.Errorf("Expected 1 dial, got %d", dialer.dialed)
	}
	if router.Status != db.RouterOnline {
		t.Errorf("Expected router marked online, got %s", router.Status)
	}
}

func TestGet_RedialsWhenProbeFails(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	dialer := &fakeDialer{}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	ctx := context.Background()
	if _, err := pool.Get(ctx, router.ID); err != nil {
		t.Fatalf("Expected connection, got error: %v", err)
	}

	// Break the cached connection's liveness probe
	dialer.conns[0].probeErr = errors.New("connection reset")

	if _, err := pool.Get(ctx, router.ID); err != nil {
		t.Fatalf("Expected reconnect, got error: %v", err)
	}

	if dialer.dialed != 2 {
		t.Errorf("Expected 2 dials after probe failure, got %d", dialer.dialed)
	}
	if !dialer.conns[0].closed {
		t.Error("Expected the broken connection to be closed")
	}
}

func TestGet_DialFailureMarksOffline(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	dialer := &fakeDialer{dialErr: errors.New("timeout")}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	_, err := pool.Get(context.Background(), router.ID)
	if err == nil {
		t.Fatal("Expected error for unreachable router")
	}
	if !fault.IsExternal(err) {
		t.Errorf("Expected external fault, got %v", err)
	}
	if router.Status != db.RouterOffline {
		t.Errorf("Expected router marked offline, got %s", router.Status)
	}
}

func TestGet_UnknownRouter(t *testing.T) {
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{}}
	dialer := &fakeDialer{}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	_, err := pool.Get(context.Background(), uuid.New())
	if !fault.IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if dialer.dialed != 0 {
		t.Errorf("Expected no dial for unknown router, got %d", dialer.dialed)
	}
}

func TestStatistics_ParsesResourceAndHealth(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	dialer := &fakeDialer{}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	ctx := context.Background()
	if _, err := pool.Get(ctx, router.ID); err != nil {
		t.Fatalf("Expected connection, got error: %v", err)
	}

	dialer.conns[0].replies["/system/resource/print"] = []map[string]string{{
		"cpu-load":     "17",
		"total-memory": "268435456",
		"free-memory":  "134217728",
		"uptime":       "2w3d",
		"version":      "7.14.2",
		"board-name":   "CCR2004",
	}}
	dialer.conns[0].replies["/system/health/print"] = []map[string]string{{
		"temperature": "41",
	}}

	stats, err := pool.Statistics(ctx, router.ID)
	if err != nil {
		t.Fatalf("Expected statistics, got error: %v", err)
	}

	if stats.CPULoad != 17 {
		t.Errorf("Expected cpu 17, got %d", stats.CPULoad)
	}
	if stats.Memory.Total != 268435456 || stats.Memory.Used != 134217728 {
		t.Errorf("Unexpected memory stats: %+v", stats.Memory)
	}
	if stats.Version != "7.14.2" || stats.BoardName != "CCR2004" {
		t.Errorf("Unexpected identity fields: %+v", stats)
	}
	if stats.Temperature != "41" {
		t.Errorf("Expected temperature 41, got %s", stats.Temperature)
	}
}

func TestStatistics_MissingHealthTable(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	dialer := &fakeDialer{}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	ctx := context.Background()
	if _, err := pool.Get(ctx, router.ID); err != nil {
		t.Fatalf("Expected connection, got error: %v", err)
	}

	dialer.conns[0].replies["/system/resource/print"] = []map[string]string{{
		"cpu-load": "3",
	}}

	stats, err := pool.Statistics(ctx, router.ID)
	if err != nil {
		t.Fatalf("Expected statistics, got error: %v", err)
	}
	if stats.Temperature != "N/A" {
		t.Errorf("Expected N/A temperature fallback, got %s", stats.Temperature)
	}
}

// serialConn counts commands in flight; a sync-mode connection must
// never carry more than one at a time.
type serialConn struct {
	inFlight int32
	overlaps int32
}

func (c *serialConn) Run(command string, args ...string) ([]map[string]string, error) {
	if atomic.AddInt32(&c.inFlight, 1) > 1 {
		atomic.AddInt32(&c.overlaps, 1)
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&c.inFlight, -1)
	return nil, nil
}

func (c *serialConn) Close() error { return nil }

func TestConcurrentCommandsOnOneRouterAreSerialized(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	conn := &serialConn{}
	dialed := int32(0)
	dial := func(addr, username, password string, timeout time.Duration) (routeros.Conn, error) {
		atomic.AddInt32(&dialed, 1)
		return conn, nil
	}
	pool := routeros.NewPool(store, dial, time.Second, zap.NewNop())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				pool.AddSecret(ctx, router.ID, routeros.Secret{Name: "alice", Password: "pw", Profile: "10M"})
			} else {
				pool.Statistics(ctx, router.ID)
			}
		}(i)
	}
	wg.Wait()

	if overlaps := atomic.LoadInt32(&conn.overlaps); overlaps != 0 {
		t.Errorf("Expected commands on one router to run one at a time, got %d overlaps", overlaps)
	}
	if atomic.LoadInt32(&dialed) != 1 {
		t.Errorf("Expected a single shared connection, got %d dials", dialed)
	}
}

func TestAddSecret_SendsSecretCommand(t *testing.T) {
	router := newTestRouter()
	store := &fakeRouterStore{routers: map[uuid.UUID]*db.Router{router.ID: router}}
	dialer := &fakeDialer{}
	pool := routeros.NewPool(store, dialer.dial, time.Second, zap.NewNop())

	err := pool.AddSecret(context.Background(), router.ID, routeros.Secret{
		Name:     "alice",
		Password: "pw",
		Profile:  "10M",
	})
	if err != nil {
		t.Fatalf("Expected add to succeed, got %v", err)
	}

	conn := dialer.conns[0]
	found := false
	for _, cmd := range conn.commands {
		if cmd == "/ppp/secret/add" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected /ppp/secret/add to be issued, got %v", conn.commands)
	}
}
