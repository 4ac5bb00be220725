// Package provisioning owns the account create/remove workflow across
// the three independently failing backends: the local database, the
// RADIUS mirror and the router fleet. There is no cross-store
// transaction; the workflow is a fan-out with one compensation step
// (local-row rollback when the RADIUS mirror cannot be written).
package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/radius"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
)

// Store is the slice of the core repository the orchestrator uses
type Store interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*db.PPPoEProfile, error)
	InsertAccount(ctx context.Context, account *db.PPPoEAccount) error
	GetAccountByUsername(ctx context.Context, username string) (*db.PPPoEAccount, error)
	DeleteAccountByUsername(ctx context.Context, username string) error
	ListRouters(ctx context.Context) ([]db.Router, error)
}

// MirrorStore is the RADIUS account mirror
type MirrorStore interface {
	CreateAccount(ctx context.Context, username, password string, attributes []radius.Attribute, groups []string) error
	DeleteAccount(ctx context.Context, username string) error
}

// RouterPool is the secret-provisioning surface of the connection pool
type RouterPool interface {
	AddSecret(ctx context.Context, routerID uuid.UUID, secret routeros.Secret) error
	RemoveSecret(ctx context.Context, routerID uuid.UUID, name string) error
}

// CreateAccountSpec describes an account to provision
type CreateAccountSpec struct {
	Username     string
	Password     string
	ProfileID    uuid.UUID
	CustomerID   *uuid.UUID
	IPAddress    *string
	LocalAddress *string
	IsVoucher    bool
	ValidUntil   *time.Time
	Comment      *string
}

// Orchestrator fans account operations out to the backends
type Orchestrator struct {
	store  Store
	mirror MirrorStore
	pool   RouterPool
	logger *zap.Logger
}

// NewOrchestrator creates a provisioning orchestrator
func NewOrchestrator(store Store, mirror MirrorStore, pool RouterPool, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		mirror: mirror,
		pool:   pool,
		logger: logger,
	}
}

// CreateAccount provisions an account. The local row and the RADIUS
// mirror are hard dependencies: the RADIUS store is the single
// authentication authority, so a mirror failure aborts the operation
// and rolls the local row back. Router secret fan-out is best-effort;
// per-router failures appear in the returned result list and never
// fail the operation.
func (o *Orchestrator) CreateAccount(ctx context.Context, spec CreateAccountSpec) (*db.PPPoEAccount, []fanout.Result, error) {
	profile, err := o.store.GetProfile(ctx, spec.ProfileID)
	if err != nil {
		return nil, nil, err
	}

	account := &db.PPPoEAccount{
		Username:     spec.Username,
		Password:     spec.Password,
		ProfileID:    profile.ID,
		CustomerID:   spec.CustomerID,
		IPAddress:    spec.IPAddress,
		LocalAddress: spec.LocalAddress,
		IsVoucher:    spec.IsVoucher,
		ValidUntil:   spec.ValidUntil,
		IsActive:     true,
		Comment:      spec.Comment,
	}
	if err := o.store.InsertAccount(ctx, account); err != nil {
		return nil, nil, err
	}

	attributes := []radius.Attribute{
		{Name: "Service-Type", Value: "Framed-User"},
		{Name: "Framed-Protocol", Value: "PPP"},
	}
	if spec.IPAddress != nil && *spec.IPAddress != "" {
		attributes = append(attributes, radius.Attribute{Name: "Framed-IP-Address", Value: *spec.IPAddress})
	}
	attributes = append(attributes, radius.Attribute{Name: "Mikrotik-Rate-Limit", Value: profile.RateLimit})

	if err := o.mirror.CreateAccount(ctx, spec.Username, spec.Password, attributes, []string{profile.Name}); err != nil {
		// The account is not usable anywhere without its mirror;
		// roll the local row back and surface the failure.
		if rbErr := o.store.DeleteAccountByUsername(ctx, spec.Username); rbErr != nil {
			o.logger.Error("failed to roll back local account after radius failure",
				zap.String("username", spec.Username), zap.Error(rbErr))
		}
		return nil, nil, fmt.Errorf("radius mirror create failed for %s: %w", spec.Username, err)
	}

	secret := routeros.Secret{
		Name:     spec.Username,
		Password: spec.Password,
		Profile:  profile.Name,
		Service:  profile.Service,
	}
	if spec.LocalAddress != nil {
		secret.LocalAddress = *spec.LocalAddress
	}
	if spec.IPAddress != nil {
		secret.RemoteAddress = *spec.IPAddress
	}
	if spec.Comment != nil {
		secret.Comment = *spec.Comment
	}

	results := o.fanOutSecrets(ctx, spec.Username, secret)

	o.logger.Info("provisioned account",
		zap.String("username", spec.Username),
		zap.String("profile", profile.Name),
		zap.Int("routers", len(results)),
		zap.Int("router_failures", len(fanout.Failed(results))))

	return account, results, nil
}

func (o *Orchestrator) fanOutSecrets(ctx context.Context, username string, secret routeros.Secret) []fanout.Result {
	routers, err := o.store.ListRouters(ctx)
	if err != nil {
		// The authoritative steps already succeeded; an unreadable
		// router list only degrades delivery, like a full fan-out
		// failure would.
		o.logger.Error("failed to list routers for secret fan-out",
			zap.String("username", username), zap.Error(err))
		return nil
	}

	results := fanout.Run(routers, func(_ int, router db.Router) error {
		return o.pool.AddSecret(ctx, router.ID, secret)
	})

	for _, r := range fanout.Failed(results) {
		o.logger.Error("failed to add secret on router",
			zap.String("username", username),
			zap.String("router_id", r.RouterID.String()),
			zap.String("router_name", r.RouterName),
			zap.Error(r.Err))
	}

	return results
}

// RemoveAccount deprovisions an account. The RADIUS mirror delete and
// the router fan-out are best-effort; the local row is deleted
// unconditionally afterwards because local state is authoritative and
// must not be held hostage by remote unavailability.
func (o *Orchestrator) RemoveAccount(ctx context.Context, username string) ([]fanout.Result, error) {
	if _, err := o.store.GetAccountByUsername(ctx, username); err != nil {
		return nil, err
	}

	if err := o.mirror.DeleteAccount(ctx, username); err != nil {
		o.logger.Error("failed to delete radius mirror, continuing",
			zap.String("username", username), zap.Error(err))
	}

	var results []fanout.Result
	routers, err := o.store.ListRouters(ctx)
	if err != nil {
		o.logger.Error("failed to list routers for secret removal",
			zap.String("username", username), zap.Error(err))
	} else {
		results = fanout.Run(routers, func(_ int, router db.Router) error {
			return o.pool.RemoveSecret(ctx, router.ID, username)
		})
		for _, r := range fanout.Failed(results) {
			o.logger.Error("failed to remove secret on router",
				zap.String("username", username),
				zap.String("router_id", r.RouterID.String()),
				zap.String("router_name", r.RouterName),
				zap.Error(r.Err))
		}
	}

	if err := o.store.DeleteAccountByUsername(ctx, username); err != nil {
		return results, err
	}

	o.logger.Info("removed account",
		zap.String("username", username),
		zap.Int("router_failures", len(fanout.Failed(results))))

	return results, nil
}
