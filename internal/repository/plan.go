package repository

import (
	"context"

	"subscription/internal/domain"
)

// PlanRepository defines the read operations for subscription plans.
type PlanRepository interface {
	// GetByID retrieves a plan by ID.
	GetByID(ctx context.Context, id string) (*domain.Plan, error)

	// ListActive retrieves all plans on sale, cheapest first.
	ListActive(ctx context.Context) ([]*domain.Plan, error)
}
