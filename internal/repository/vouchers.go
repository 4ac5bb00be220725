package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
)

// InsertVoucher persists a freshly generated voucher. A code collision
// surfaces as a Conflict so the generator can re-draw.
func (r *Repository) InsertVoucher(ctx context.Context, voucher *db.Voucher) error {
	query := `
		INSERT INTO vouchers (
			code, profile_id, validity_days, price, status, expiry_date,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()
	err := r.pool.QueryRow(ctx, query,
		voucher.Code,
		voucher.ProfileID,
		voucher.ValidityDays,
		voucher.Price,
		voucher.Status,
		voucher.ExpiryDate,
		now,
	).Scan(&voucher.ID, &voucher.CreatedAt, &voucher.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict(fmt.Sprintf("voucher code %s already exists", voucher.Code), err)
		}
		return fmt.Errorf("failed to insert voucher: %w", err)
	}

	return nil
}

// GetVoucherByCode retrieves a voucher by its code
func (r *Repository) GetVoucherByCode(ctx context.Context, code string) (*db.Voucher, error) {
	query := `
		SELECT id, code, profile_id, validity_days, price, status,
			expiry_date, used_by, used_at, created_at, updated_at
		FROM vouchers
		WHERE code = $1
	`

	var v db.Voucher
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&v.ID,
		&v.Code,
		&v.ProfileID,
		&v.ValidityDays,
		&v.Price,
		&v.Status,
		&v.ExpiryDate,
		&v.UsedBy,
		&v.UsedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("voucher", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query voucher: %w", err)
	}

	return &v, nil
}

// ClaimVoucher performs the guarded unused->used transition. The WHERE
// clause on the prior status is the compare-and-set: of two concurrent
// claims on the same voucher, exactly one sees a row affected.
func (r *Repository) ClaimVoucher(ctx context.Context, id uuid.UUID, usedBy string, usedAt time.Time) (bool, error) {
	query := `
		UPDATE vouchers
		SET status = $2, used_by = $3, used_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`

	tag, err := r.pool.Exec(ctx, query, id, db.VoucherUsed, usedBy, usedAt, db.VoucherUnused)
	if err != nil {
		return false, fmt.Errorf("failed to claim voucher: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseVoucher reverts a claimed voucher to unused after downstream
// provisioning failed. Only the claim compensation path calls this.
func (r *Repository) ReleaseVoucher(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE vouchers
		SET status = $2, used_by = NULL, used_at = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	_, err := r.pool.Exec(ctx, query, id, db.VoucherUnused, time.Now(), db.VoucherUsed)
	if err != nil {
		return fmt.Errorf("failed to release voucher: %w", err)
	}
	return nil
}

// MarkVoucherExpired performs the guarded unused->expired transition
func (r *Repository) MarkVoucherExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE vouchers
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	tag, err := r.pool.Exec(ctx, query, id, db.VoucherExpired, time.Now(), db.VoucherUnused)
	if err != nil {
		return false, fmt.Errorf("failed to mark voucher expired: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ExpireOverdueVouchers transitions every unused voucher whose expiry
// date has passed and returns the number of rows affected.
func (r *Repository) ExpireOverdueVouchers(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE vouchers
		SET status = $1, updated_at = $2
		WHERE status = $3 AND expiry_date < $2
	`

	tag, err := r.pool.Exec(ctx, query, db.VoucherExpired, now, db.VoucherUnused)
	if err != nil {
		return 0, fmt.Errorf("failed to expire vouchers: %w", err)
	}

	return tag.RowsAffected(), nil
}

// VoucherStats summarizes voucher counts per status and revenue over
// used vouchers.
type VoucherStats struct {
	Total   int64
	Unused  int64
	Used    int64
	Expired int64
	Revenue float64
}

// GetVoucherStats aggregates voucher counts and revenue
func (r *Repository) GetVoucherStats(ctx context.Context) (*VoucherStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COALESCE(SUM(price) FILTER (WHERE status = $2), 0)
		FROM vouchers
	`

	var stats VoucherStats
	err := r.pool.QueryRow(ctx, query, db.VoucherUnused, db.VoucherUsed, db.VoucherExpired).Scan(
		&stats.Total,
		&stats.Unused,
		&stats.Used,
		&stats.Expired,
		&stats.Revenue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query voucher stats: %w", err)
	}

	return &stats, nil
}
