package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"subscription/internal/repository"
)

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	db *sql.DB
	tx *sql.Tx

	attempts     *PaymentAttemptRepository
	entitlements *EntitlementRepository
	plans        *PlanRepository
}

// NewStore creates a Store backed by the connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		attempts:     NewPaymentAttemptRepository(db),
		entitlements: NewEntitlementRepository(db),
		plans:        NewPlanRepository(db),
	}
}

func newTxStore(db *sql.DB, tx *sql.Tx) *Store {
	return &Store{
		db:           db,
		tx:           tx,
		attempts:     NewPaymentAttemptRepositoryWithTx(tx),
		entitlements: NewEntitlementRepositoryWithTx(tx),
		plans:        NewPlanRepositoryWithTx(tx),
	}
}

func (s *Store) Attempts() repository.PaymentAttemptRepository  { return s.attempts }
func (s *Store) Entitlements() repository.EntitlementRepository { return s.entitlements }
func (s *Store) Plans() repository.PlanRepository               { return s.plans }

// WithinTx runs fn inside a database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(newTxStore(s.db, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Ensure Store implements repository.Store.
var _ repository.Store = (*Store)(nil)
