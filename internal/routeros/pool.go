package routeros

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
)

const (
	cmdIdentityPrint = "/system/identity/print"
	cmdResourcePrint = "/system/resource/print"
	cmdHealthPrint   = "/system/health/print"
	cmdSecretAdd     = "/ppp/secret/add"
	cmdSecretPrint   = "/ppp/secret/print"
	cmdSecretRemove  = "/ppp/secret/remove"
	cmdActivePrint   = "/ppp/active/print"
)

// RouterStore is the subset of the repository the pool needs. Status
// changes write through to the router row immediately.
type RouterStore interface {
	GetRouter(ctx context.Context, id uuid.UUID) (*db.Router, error)
	SetRouterStatus(ctx context.Context, id uuid.UUID, status string, lastSync *time.Time) error
}

// Pool keeps at most one live control connection per router. The
// client speaks the API in sync mode, so a connection can carry only
// one command at a time: the pool serializes the full
// connect-probe-execute span per router. Different routers proceed in
// parallel.
type Pool struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry

	store   RouterStore
	dial    Dialer
	timeout time.Duration
	logger  *zap.Logger
}

type entry struct {
	mu   sync.Mutex
	conn Conn
}

// NewPool creates a router connection pool
func NewPool(store RouterStore, dial Dialer, timeout time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		entries: make(map[uuid.UUID]*entry),
		store:   store,
		dial:    dial,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *Pool) entry(routerID uuid.UUID) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[routerID]
	if !ok {
		e = &entry{}
		p.entries[routerID] = e
	}
	return e
}

// Get returns a validated live connection for the router, reusing the
// cached one when its liveness probe still passes and dialing a fresh
// one otherwise. A dial failure marks the router offline and returns a
// fault.External; there is no internal retry.
func (p *Pool) Get(ctx context.Context, routerID uuid.UUID) (Conn, error) {
	e := p.entry(routerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return p.connLocked(ctx, routerID, e)
}

// connLocked returns the entry's live connection, probing the cached
// one and dialing a fresh one as needed. The caller holds e.mu.
func (p *Pool) connLocked(ctx context.Context, routerID uuid.UUID, e *entry) (Conn, error) {
	if e.conn != nil {
		if _, err := e.conn.Run(cmdIdentityPrint); err == nil {
			return e.conn, nil
		}
		p.logger.Warn("cached router connection failed probe, reconnecting",
			zap.String("router_id", routerID.String()))
		e.conn.Close()
		e.conn = nil
	}

	router, err := p.store.GetRouter(ctx, routerID)
	if err != nil {
		return nil, err
	}

	conn, err := p.dial(router.Addr(), router.Username, router.Password, p.timeout)
	if err != nil {
		p.setStatus(ctx, router, db.RouterOffline, nil)
		return nil, fault.External(fmt.Sprintf("router %s", router.Name), err)
	}

	now := time.Now()
	p.setStatus(ctx, router, db.RouterOnline, &now)
	e.conn = conn

	return conn, nil
}

func (p *Pool) setStatus(ctx context.Context, router *db.Router, status string, lastSync *time.Time) {
	if err := p.store.SetRouterStatus(ctx, router.ID, status, lastSync); err != nil {
		p.logger.Error("failed to persist router status",
			zap.String("router_id", router.ID.String()),
			zap.String("router_name", router.Name),
			zap.String("status", status),
			zap.Error(err))
	}
}

// run executes one command against the router, holding the entry mutex
// until the reply is read. A sync-mode connection cannot carry two
// commands at once; the lock keeps a concurrent fan-out and the
// connectivity sweep from interleaving on the same wire. A command
// failure drops the connection so the next call re-dials.
func (p *Pool) run(ctx context.Context, routerID uuid.UUID, command string, args ...string) ([]map[string]string, error) {
	e := p.entry(routerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := p.connLocked(ctx, routerID, e)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Run(command, args...)
	if err != nil {
		conn.Close()
		e.conn = nil
		return nil, fault.External(fmt.Sprintf("router %s", routerID), fmt.Errorf("%s: %w", command, err))
	}
	return rows, nil
}

// Statistics reads the router's resource and health tables
func (p *Pool) Statistics(ctx context.Context, routerID uuid.UUID) (*Statistics, error) {
	resource, err := p.run(ctx, routerID, cmdResourcePrint)
	if err != nil {
		return nil, err
	}

	// Some boards have no health table; statistics still apply.
	health, err := p.run(ctx, routerID, cmdHealthPrint)
	if err != nil {
		p.logger.Debug("router health table unavailable",
			zap.String("router_id", routerID.String()), zap.Error(err))
		health = nil
	}

	return parseStatistics(resource, health), nil
}

// Secret is a PPP secret as provisioned on a router
type Secret struct {
	Name          string
	Password      string
	Profile       string
	Service       string
	LocalAddress  string
	RemoteAddress string
	Comment       string
}

// AddSecret provisions a PPP secret on the router
func (p *Pool) AddSecret(ctx context.Context, routerID uuid.UUID, secret Secret) error {
	service := secret.Service
	if service == "" {
		service = "pppoe"
	}

	args := []string{
		"=name=" + secret.Name,
		"=password=" + secret.Password,
		"=profile=" + secret.Profile,
		"=service=" + service,
	}
	if secret.LocalAddress != "" {
		args = append(args, "=local-address="+secret.LocalAddress)
	}
	if secret.RemoteAddress != "" {
		args = append(args, "=remote-address="+secret.RemoteAddress)
	}
	if secret.Comment != "" {
		args = append(args, "=comment="+secret.Comment)
	}

	_, err := p.run(ctx, routerID, cmdSecretAdd, args...)
	return err
}

// RemoveSecret removes the PPP secret with the given name. A secret
// that is already absent is not an error.
func (p *Pool) RemoveSecret(ctx context.Context, routerID uuid.UUID, name string) error {
	rows, err := p.run(ctx, routerID, cmdSecretPrint, "?name="+name, "=.proplist=.id")
	if err != nil {
		return err
	}

	for _, row := range rows {
		id, ok := row[".id"]
		if !ok {
			continue
		}
		if _, err := p.run(ctx, routerID, cmdSecretRemove, "=.id="+id); err != nil {
			return err
		}
	}

	return nil
}

// LiveSession is one active PPP session as reported by a router
type LiveSession struct {
	Name      string
	Service   string
	CallerID  string
	Address   string
	Uptime    string
	SessionID string
}

// ActiveSessions lists the router's live PPP sessions
func (p *Pool) ActiveSessions(ctx context.Context, routerID uuid.UUID) ([]LiveSession, error) {
	rows, err := p.run(ctx, routerID, cmdActivePrint)
	if err != nil {
		return nil, err
	}

	sessions := make([]LiveSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, LiveSession{
			Name:      row["name"],
			Service:   row["service"],
			CallerID:  row["caller-id"],
			Address:   row["address"],
			Uptime:    row["uptime"],
			SessionID: row["session-id"],
		})
	}

	return sessions, nil
}
