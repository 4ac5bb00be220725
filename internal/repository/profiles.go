package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
)

// GetProfile retrieves a PPPoE profile by ID
func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (*db.PPPoEProfile, error) {
	query := `
		SELECT id, name, rate_limit, address_pool, local_address, dns1, dns2,
			service, is_active, created_at, updated_at
		FROM pppoe_profiles
		WHERE id = $1
	`

	var p db.PPPoEProfile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.RateLimit,
		&p.AddressPool,
		&p.LocalAddress,
		&p.DNS1,
		&p.DNS2,
		&p.Service,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	return &p, nil
}
