// Package voucher owns the prepaid access code lifecycle: batch
// generation, the one-way unused->used / unused->expired state machine
// and the periodic expiry sweep.
package voucher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
	"github.com/hericahyadi/isp-provisioning-worker/internal/provisioning"
	"github.com/hericahyadi/isp-provisioning-worker/internal/repository"
	"github.com/hericahyadi/isp-provisioning-worker/tools/codegen"
)

// Store is the slice of the core repository the manager uses. The
// Claim/MarkExpired transitions are compare-and-set: they only apply
// when the row is still unused.
type Store interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*db.PPPoEProfile, error)
	InsertVoucher(ctx context.Context, voucher *db.Voucher) error
	GetVoucherByCode(ctx context.Context, code string) (*db.Voucher, error)
	ClaimVoucher(ctx context.Context, id uuid.UUID, usedBy string, usedAt time.Time) (bool, error)
	ReleaseVoucher(ctx context.Context, id uuid.UUID) error
	MarkVoucherExpired(ctx context.Context, id uuid.UUID) (bool, error)
	ExpireOverdueVouchers(ctx context.Context, now time.Time) (int64, error)
	GetVoucherStats(ctx context.Context) (*repository.VoucherStats, error)
}

// Provisioner creates the account a redeemed voucher pays for
type Provisioner interface {
	CreateAccount(ctx context.Context, spec provisioning.CreateAccountSpec) (*db.PPPoEAccount, []fanout.Result, error)
}

// GenerateParams describes a voucher batch
type GenerateParams struct {
	Count        int
	ProfileID    uuid.UUID
	ValidityDays int
	Price        float64
	Prefix       string
}

// ActivationResult is returned to the redeeming caller. Password is
// the generated one-time credential.
type ActivationResult struct {
	Username     string
	Password     string
	Profile      string
	ValidityDays int
	ValidUntil   time.Time
	Routers      []fanout.Result
}

// Manager drives the voucher lifecycle
type Manager struct {
	store       Store
	provisioner Provisioner
	// expiryWindow is the redeem-by ceiling stamped at generation
	// time, independent of a voucher's validityDays.
	expiryWindow time.Duration
	retryLimit   int
	logger       *zap.Logger
}

// NewManager creates a voucher lifecycle manager
func NewManager(store Store, provisioner Provisioner, expiryWindowDays, collisionRetryLimit int, logger *zap.Logger) *Manager {
	return &Manager{
		store:        store,
		provisioner:  provisioner,
		expiryWindow: time.Duration(expiryWindowDays) * 24 * time.Hour,
		retryLimit:   collisionRetryLimit,
		logger:       logger,
	}
}

// Generate produces a batch of unused vouchers with pairwise distinct
// codes (prefix + 8 uppercase hex characters from a cryptographically
// secure source). A code collision re-draws, bounded per voucher.
func (m *Manager) Generate(ctx context.Context, params GenerateParams) ([]db.Voucher, error) {
	if _, err := m.store.GetProfile(ctx, params.ProfileID); err != nil {
		return nil, err
	}

	expiryDate := time.Now().Add(m.expiryWindow)
	vouchers := make([]db.Voucher, 0, params.Count)

	for i := 0; i < params.Count; i++ {
		voucher, err := m.generateOne(ctx, params, expiryDate)
		if err != nil {
			return vouchers, err
		}
		vouchers = append(vouchers, *voucher)
	}

	m.logger.Info("generated vouchers",
		zap.Int("count", len(vouchers)),
		zap.String("profile_id", params.ProfileID.String()))

	return vouchers, nil
}

func (m *Manager) generateOne(ctx context.Context, params GenerateParams, expiryDate time.Time) (*db.Voucher, error) {
	for attempt := 0; attempt < m.retryLimit; attempt++ {
		code, err := codegen.VoucherCode(params.Prefix)
		if err != nil {
			return nil, err
		}

		voucher := &db.Voucher{
			Code:         code,
			ProfileID:    params.ProfileID,
			ValidityDays: params.ValidityDays,
			Price:        params.Price,
			Status:       db.VoucherUnused,
			ExpiryDate:   expiryDate,
		}

		err = m.store.InsertVoucher(ctx, voucher)
		if err == nil {
			return voucher, nil
		}
		if !fault.IsConflict(err) {
			return nil, err
		}
		m.logger.Warn("voucher code collision, redrawing", zap.String("code", code))
	}

	return nil, fault.Conflictf("could not generate a unique voucher code after %d attempts", m.retryLimit)
}

// Activate redeems a voucher for a subscriber. The unused->used
// transition is claimed first through the store's compare-and-set, so
// of two concurrent activations on the same code at most one proceeds
// to provisioning; the loser fails with Conflict and no side effect.
// A provisioning failure releases the claim.
func (m *Manager) Activate(ctx context.Context, code, username string) (*ActivationResult, error) {
	voucher, err := m.store.GetVoucherByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if voucher.Status != db.VoucherUnused {
		return nil, fault.Conflictf("voucher %s is already %s", code, voucher.Status)
	}

	now := time.Now()
	if now.After(voucher.ExpiryDate) {
		// Lazy expiry on touch: the only transition to expired
		// outside the sweep.
		if _, err := m.store.MarkVoucherExpired(ctx, voucher.ID); err != nil {
			m.logger.Error("failed to mark voucher expired", zap.String("code", code), zap.Error(err))
		}
		return nil, fault.Conflictf("voucher %s has expired", code)
	}

	claimed, err := m.store.ClaimVoucher(ctx, voucher.ID, username, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fault.Conflictf("voucher %s was claimed concurrently", code)
	}

	password, err := codegen.OneTimePassword()
	if err != nil {
		m.release(ctx, voucher.ID, code)
		return nil, err
	}

	validUntil := now.Add(time.Duration(voucher.ValidityDays) * 24 * time.Hour)
	account, results, err := m.provisioner.CreateAccount(ctx, provisioning.CreateAccountSpec{
		Username:   username,
		Password:   password,
		ProfileID:  voucher.ProfileID,
		IsVoucher:  true,
		ValidUntil: &validUntil,
	})
	if err != nil {
		m.release(ctx, voucher.ID, code)
		return nil, err
	}

	profile, err := m.store.GetProfile(ctx, voucher.ProfileID)
	profileName := ""
	if err == nil {
		profileName = profile.Name
	}

	m.logger.Info("activated voucher",
		zap.String("code", code),
		zap.String("username", account.Username),
		zap.Time("valid_until", validUntil))

	return &ActivationResult{
		Username:     username,
		Password:     password,
		Profile:      profileName,
		ValidityDays: voucher.ValidityDays,
		ValidUntil:   validUntil,
		Routers:      results,
	}, nil
}

func (m *Manager) release(ctx context.Context, id uuid.UUID, code string) {
	if err := m.store.ReleaseVoucher(ctx, id); err != nil {
		m.logger.Error("failed to release claimed voucher",
			zap.String("code", code), zap.Error(err))
	}
}

// ExpireSweep transitions every overdue unused voucher to expired and
// returns the count affected. Idempotent.
func (m *Manager) ExpireSweep(ctx context.Context) (int64, error) {
	count, err := m.store.ExpireOverdueVouchers(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	if count > 0 {
		m.logger.Info("expired overdue vouchers", zap.Int64("count", count))
	}
	return count, nil
}

// Stats aggregates voucher counts per status and revenue
func (m *Manager) Stats(ctx context.Context) (*repository.VoucherStats, error) {
	return m.store.GetVoucherStats(ctx)
}
