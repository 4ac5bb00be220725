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

const routerColumns = `id, name, ip_address, username, password, api_port, description,
		model, version, serial_number, identity, status, last_sync, created_at, updated_at`

func scanRouter(row pgx.Row) (*db.Router, error) {
	var r db.Router
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.IPAddress,
		&r.Username,
		&r.Password,
		&r.APIPort,
		&r.Description,
		&r.Model,
		&r.Version,
		&r.SerialNumber,
		&r.Identity,
		&r.Status,
		&r.LastSync,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRouter persists a newly registered router together with the
// metadata captured during the registration probe.
func (r *Repository) CreateRouter(ctx context.Context, router *db.Router) error {
	query := `
		INSERT INTO routers (
			name, ip_address, username, password, api_port, description,
			model, version, serial_number, identity, status, last_sync,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()
	err := r.pool.QueryRow(ctx, query,
		router.Name,
		router.IPAddress,
		router.Username,
		router.Password,
		router.APIPort,
		router.Description,
		router.Model,
		router.Version,
		router.SerialNumber,
		router.Identity,
		router.Status,
		router.LastSync,
		now,
	).Scan(&router.ID, &router.CreatedAt, &router.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict(fmt.Sprintf("router %s already registered", router.Name), err)
		}
		return fmt.Errorf("failed to create router: %w", err)
	}

	return nil
}

// GetRouter retrieves a router by ID
func (r *Repository) GetRouter(ctx context.Context, id uuid.UUID) (*db.Router, error) {
	query := `SELECT ` + routerColumns + ` FROM routers WHERE id = $1`

	router, err := scanRouter(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("router", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query router: %w", err)
	}

	return router, nil
}

// ListRouters returns every registered router
func (r *Repository) ListRouters(ctx context.Context) ([]db.Router, error) {
	query := `SELECT ` + routerColumns + ` FROM routers ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query routers: %w", err)
	}
	defer rows.Close()

	var routers []db.Router
	for rows.Next() {
		router, err := scanRouter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan router: %w", err)
		}
		routers = append(routers, *router)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return routers, nil
}

// SetRouterStatus writes the router's connectivity status through to
// the database. lastSync is only advanced on a successful contact.
func (r *Repository) SetRouterStatus(ctx context.Context, id uuid.UUID, status string, lastSync *time.Time) error {
	query := `
		UPDATE routers
		SET status = $2, last_sync = COALESCE($3, last_sync), updated_at = $4
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, status, lastSync, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update router status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("router", id)
	}

	return nil
}

// DeleteRouter removes a router registration
func (r *Repository) DeleteRouter(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM routers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete router: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("router", id)
	}

	return nil
}
