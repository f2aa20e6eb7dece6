package postgres

import (
	"context"
	"database/sql"
	"errors"

	"subscription/internal/domain"
	"subscription/internal/repository"
)

// PlanRepository is a PostgreSQL implementation of repository.PlanRepository.
type PlanRepository struct {
	q Querier
}

// NewPlanRepository creates a new PostgreSQL plan repository.
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{q: db}
}

// NewPlanRepositoryWithTx creates a plan repository using a transaction.
func NewPlanRepositoryWithTx(tx *sql.Tx) *PlanRepository {
	return &PlanRepository{q: tx}
}

const planColumns = `id, name, slug, description, price_minor_units, currency, duration, is_active, created_at, updated_at`

// GetByID retrieves a plan by ID.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	plan, err := scanPlan(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return plan, nil
}

// ListActive retrieves all plans on sale, cheapest first.
func (r *PlanRepository) ListActive(ctx context.Context) ([]*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE is_active = TRUE ORDER BY price_minor_units ASC, name ASC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	return plans, rows.Err()
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	var plan domain.Plan
	var description sql.NullString

	if err := row.Scan(
		&plan.ID,
		&plan.Name,
		&plan.Slug,
		&description,
		&plan.PriceMinorUnits,
		&plan.Currency,
		&plan.Duration,
		&plan.IsActive,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	); err != nil {
		return nil, err
	}

	plan.Description = description.String
	if plan.Currency == "" {
		plan.Currency = domain.DefaultCurrency
	}

	return &plan, nil
}

// Ensure PlanRepository implements repository.PlanRepository.
var _ repository.PlanRepository = (*PlanRepository)(nil)
