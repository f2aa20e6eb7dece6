package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"subscription/internal/domain"
	"subscription/internal/repository"
)

// EntitlementRepository is a PostgreSQL implementation of repository.EntitlementRepository.
type EntitlementRepository struct {
	q Querier
}

// NewEntitlementRepository creates a new PostgreSQL entitlement repository.
func NewEntitlementRepository(db *sql.DB) *EntitlementRepository {
	return &EntitlementRepository{q: db}
}

// NewEntitlementRepositoryWithTx creates an entitlement repository using a transaction.
func NewEntitlementRepositoryWithTx(tx *sql.Tx) *EntitlementRepository {
	return &EntitlementRepository{q: tx}
}

// GetByOwnerID retrieves the entitlement of an owner.
func (r *EntitlementRepository) GetByOwnerID(ctx context.Context, ownerID string) (*domain.Entitlement, error) {
	query := `
		SELECT owner_id, plan_id, start_at, end_at, source_attempt_id, created_at, updated_at
		FROM entitlements WHERE owner_id = $1
	`

	var e domain.Entitlement
	err := r.q.QueryRowContext(ctx, query, ownerID).Scan(
		&e.OwnerID,
		&e.PlanID,
		&e.StartAt,
		&e.EndAt,
		&e.SourceAttemptID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &e, nil
}

// Upsert creates or overwrites the owner's entitlement in a single statement.
// A renewal replaces the window rather than extending it.
func (r *EntitlementRepository) Upsert(ctx context.Context, e *domain.Entitlement) error {
	query := `
		INSERT INTO entitlements (owner_id, plan_id, start_at, end_at, source_attempt_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (owner_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			source_attempt_id = EXCLUDED.source_attempt_id,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	now := e.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	return r.q.QueryRowContext(ctx, query,
		e.OwnerID,
		e.PlanID,
		e.StartAt,
		e.EndAt,
		e.SourceAttemptID,
		now,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

// Ensure EntitlementRepository implements repository.EntitlementRepository.
var _ repository.EntitlementRepository = (*EntitlementRepository)(nil)
