package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
)

// InsertAccount persists a PPPoE account row. The row is the caller's
// source of truth for account existence.
func (r *Repository) InsertAccount(ctx context.Context, account *db.PPPoEAccount) error {
	query := `
		INSERT INTO pppoe_accounts (
			username, password, profile_id, customer_id, ip_address,
			local_address, is_voucher, valid_until, is_active, comment,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()
	err := r.pool.QueryRow(ctx, query,
		account.Username,
		account.Password,
		account.ProfileID,
		account.CustomerID,
		account.IPAddress,
		account.LocalAddress,
		account.IsVoucher,
		account.ValidUntil,
		account.IsActive,
		account.Comment,
		now,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict(fmt.Sprintf("account %s already exists", account.Username), err)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return nil
}

// GetAccountByUsername retrieves a PPPoE account by username
func (r *Repository) GetAccountByUsername(ctx context.Context, username string) (*db.PPPoEAccount, error) {
	query := `
		SELECT id, username, password, profile_id, customer_id, ip_address,
			local_address, is_voucher, valid_until, is_active, comment,
			created_at, updated_at
		FROM pppoe_accounts
		WHERE username = $1
	`

	var a db.PPPoEAccount
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&a.ID,
		&a.Username,
		&a.Password,
		&a.ProfileID,
		&a.CustomerID,
		&a.IPAddress,
		&a.LocalAddress,
		&a.IsVoucher,
		&a.ValidUntil,
		&a.IsActive,
		&a.Comment,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("account", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}

	return &a, nil
}

// DeleteAccountByUsername removes the local account row. Deleting an
// absent row is not an error.
func (r *Repository) DeleteAccountByUsername(ctx context.Context, username string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pppoe_accounts WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
