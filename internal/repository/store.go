package repository

import "context"

// Store groups the repositories that must change together and runs units of
// work against them.
type Store interface {
	Attempts() PaymentAttemptRepository
	Entitlements() EntitlementRepository
	Plans() PlanRepository

	// WithinTx runs fn against a transaction-scoped Store. The transaction is
	// committed if fn returns nil and rolled back otherwise. Calling WithinTx on
	// a Store that is already transaction-scoped reuses the transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
