package repository

import (
	"context"

	"subscription/internal/domain"
)

// EntitlementRepository defines the persistence operations for entitlements.
type EntitlementRepository interface {
	// GetByOwnerID retrieves the entitlement of an owner.
	GetByOwnerID(ctx context.Context, ownerID string) (*domain.Entitlement, error)

	// Upsert atomically creates or overwrites the single entitlement row of
	// entitlement.OwnerID.
	Upsert(ctx context.Context, entitlement *domain.Entitlement) error
}
