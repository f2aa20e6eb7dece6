package repository

import (
	"context"
	"time"

	"subscription/internal/domain"
)

// AttemptFilter narrows an owner's payment history. Zero fields do not filter.
type AttemptFilter struct {
	States        []domain.PaymentState
	CreatedAfter  time.Time // inclusive
	CreatedBefore time.Time // exclusive
	Limit         int
	Offset        int
}

// PaymentAttemptRepository defines the persistence operations for the payment ledger.
type PaymentAttemptRepository interface {
	// Create persists a new attempt.
	Create(ctx context.Context, attempt *domain.PaymentAttempt) error

	// GetByExternalID retrieves an attempt by its external ID.
	GetByExternalID(ctx context.Context, externalID string) (*domain.PaymentAttempt, error)

	// GetByExternalIDForOwner retrieves an attempt only if it belongs to ownerID.
	// Attempts owned by someone else are reported as ErrNotFound.
	GetByExternalIDForOwner(ctx context.Context, externalID, ownerID string) (*domain.PaymentAttempt, error)

	// GetByProviderReferenceForOwner retrieves an attempt by the provider's pidx,
	// only if it belongs to ownerID.
	GetByProviderReferenceForOwner(ctx context.Context, providerReference, ownerID string) (*domain.PaymentAttempt, error)

	// SetProviderReference records the provider's reference and payment URL once
	// the initiation was accepted. Returns ErrDuplicateProviderReference if the
	// reference is already used by another attempt.
	SetProviderReference(ctx context.Context, externalID, providerReference, paymentURL string, raw []byte) error

	// ListByOwner returns the owner's attempts, newest first.
	ListByOwner(ctx context.Context, ownerID string, filter AttemptFilter) ([]*domain.PaymentAttempt, error)

	// Transition applies a compare-and-set state change. Returns ErrStateConflict
	// if the stored state is not t.From.
	Transition(ctx context.Context, t domain.Transition) error

	// RecordVerificationPayload stores a provider response without changing
	// the attempt's state. Returns ErrStateConflict if the stored state is not state.
	RecordVerificationPayload(ctx context.Context, externalID string, state domain.PaymentState, raw []byte) error
}
