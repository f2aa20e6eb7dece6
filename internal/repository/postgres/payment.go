package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"subscription/internal/domain"
	"subscription/internal/repository"
)

const (
	attemptsPKey                 = "payment_attempts_pkey"
	attemptsProviderRefUniqueKey = "payment_attempts_provider_reference_key"
)

const attemptColumns = `
	external_id, provider_reference, amount_minor_units, currency, state,
	provider_transaction_id, raw_verification_payload, owner_id, plan_id,
	payment_url, failure_reason, refund_amount_minor_units, refund_reason,
	initiated_at, completed_at, failed_at, refunded_at, created_at, updated_at
`

// PaymentAttemptRepository is a PostgreSQL implementation of repository.PaymentAttemptRepository.
type PaymentAttemptRepository struct {
	q Querier
}

// NewPaymentAttemptRepository creates a new PostgreSQL payment attempt repository.
func NewPaymentAttemptRepository(db *sql.DB) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{q: db}
}

// NewPaymentAttemptRepositoryWithTx creates a payment attempt repository using a transaction.
func NewPaymentAttemptRepositoryWithTx(tx *sql.Tx) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{q: tx}
}

// Create persists a new attempt.
func (r *PaymentAttemptRepository) Create(ctx context.Context, attempt *domain.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (
			external_id, provider_reference, amount_minor_units, currency, state,
			owner_id, plan_id, initiated_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`

	now := attempt.CreatedAt
	if now.IsZero() {
		now = time.Now()
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = now

	var initiatedAt sql.NullTime
	if !attempt.InitiatedAt.IsZero() {
		initiatedAt = sql.NullTime{Time: attempt.InitiatedAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		attempt.ExternalID,
		nullString(attempt.ProviderReference),
		attempt.AmountMinorUnits,
		attempt.Currency,
		attempt.State,
		attempt.OwnerID,
		attempt.PlanID,
		initiatedAt,
		now,
	)
	if err != nil {
		switch {
		case constraintViolated(err, attemptsPKey):
			return repository.ErrDuplicateExternalID
		case constraintViolated(err, attemptsProviderRefUniqueKey):
			return repository.ErrDuplicateProviderReference
		}
		return err
	}

	return nil
}

// GetByExternalID retrieves an attempt by its external ID.
func (r *PaymentAttemptRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE external_id = $1`
	return scanAttempt(r.q.QueryRowContext(ctx, query, externalID))
}

// GetByExternalIDForOwner retrieves an attempt only if it belongs to ownerID.
func (r *PaymentAttemptRepository) GetByExternalIDForOwner(ctx context.Context, externalID, ownerID string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE external_id = $1 AND owner_id = $2`
	return scanAttempt(r.q.QueryRowContext(ctx, query, externalID, ownerID))
}

// GetByProviderReferenceForOwner retrieves an attempt by pidx only if it belongs to ownerID.
func (r *PaymentAttemptRepository) GetByProviderReferenceForOwner(ctx context.Context, providerReference, ownerID string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE provider_reference = $1 AND owner_id = $2`
	return scanAttempt(r.q.QueryRowContext(ctx, query, providerReference, ownerID))
}

// SetProviderReference records the provider's reference for an attempt that has none yet.
func (r *PaymentAttemptRepository) SetProviderReference(ctx context.Context, externalID, providerReference, paymentURL string, raw []byte) error {
	query := `
		UPDATE payment_attempts
		SET provider_reference = $2,
			payment_url = $3,
			raw_verification_payload = COALESCE($4::jsonb, raw_verification_payload),
			updated_at = $5
		WHERE external_id = $1 AND provider_reference IS NULL
	`

	result, err := r.q.ExecContext(ctx, query,
		externalID,
		providerReference,
		nullString(paymentURL),
		nullJSON(raw),
		time.Now(),
	)
	if err != nil {
		if constraintViolated(err, attemptsProviderRefUniqueKey) {
			return repository.ErrDuplicateProviderReference
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either the attempt is missing or it already has a reference.
		if _, err := r.GetByExternalID(ctx, externalID); err != nil {
			return err
		}
		return repository.ErrDuplicateProviderReference
	}

	return nil
}

// Transition applies a compare-and-set state change.
func (r *PaymentAttemptRepository) Transition(ctx context.Context, t domain.Transition) error {
	query := `
		UPDATE payment_attempts
		SET state = $3,
			raw_verification_payload = COALESCE($4::jsonb, raw_verification_payload),
			provider_transaction_id = COALESCE($5, provider_transaction_id),
			failure_reason = COALESCE($6, failure_reason),
			refund_amount_minor_units = COALESCE($7, refund_amount_minor_units),
			refund_reason = COALESCE($8, refund_reason),
			completed_at = CASE WHEN $3 = 'COMPLETED' AND completed_at IS NULL THEN $9 ELSE completed_at END,
			failed_at = CASE WHEN $3 = 'FAILED' AND failed_at IS NULL THEN $9 ELSE failed_at END,
			refunded_at = CASE WHEN $3 = 'REFUNDED' AND refunded_at IS NULL THEN $9 ELSE refunded_at END,
			updated_at = $9
		WHERE external_id = $1 AND state = $2
	`

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	var refundAmount sql.NullInt64
	if t.RefundAmountMinorUnits > 0 {
		refundAmount = sql.NullInt64{Int64: t.RefundAmountMinorUnits, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		t.ExternalID,
		string(t.From),
		string(t.To),
		nullJSON(t.RawPayload),
		nullString(t.ProviderTransactionID),
		nullString(t.FailureReason),
		refundAmount,
		nullString(t.RefundReason),
		at,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrStateConflict
	}

	return nil
}

// ListByOwner returns the owner's attempts, newest first.
func (r *PaymentAttemptRepository) ListByOwner(ctx context.Context, ownerID string, filter repository.AttemptFilter) ([]*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts
		WHERE owner_id = $1
			AND ($2::text[] IS NULL OR state = ANY($2))
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, external_id DESC
		LIMIT $5 OFFSET $6
	`

	var states pq.StringArray
	for _, state := range filter.States {
		states = append(states, string(state))
	}

	rows, err := r.q.QueryContext(ctx, query,
		ownerID,
		states,
		nullTime(filter.CreatedAfter),
		nullTime(filter.CreatedBefore),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*domain.PaymentAttempt, 0, filter.Limit)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}

	return attempts, rows.Err()
}

// RecordVerificationPayload stores a provider response without changing state.
func (r *PaymentAttemptRepository) RecordVerificationPayload(ctx context.Context, externalID string, state domain.PaymentState, raw []byte) error {
	query := `
		UPDATE payment_attempts
		SET raw_verification_payload = COALESCE($3::jsonb, raw_verification_payload),
			updated_at = $4
		WHERE external_id = $1 AND state = $2
	`

	result, err := r.q.ExecContext(ctx, query, externalID, string(state), nullJSON(raw), time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrStateConflict
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*domain.PaymentAttempt, error) {
	var (
		attempt               domain.PaymentAttempt
		providerReference     sql.NullString
		providerTransactionID sql.NullString
		rawPayload            []byte
		paymentURL            sql.NullString
		failureReason         sql.NullString
		refundAmount          sql.NullInt64
		refundReason          sql.NullString
		initiatedAt           sql.NullTime
		completedAt           sql.NullTime
		failedAt              sql.NullTime
		refundedAt            sql.NullTime
	)

	err := row.Scan(
		&attempt.ExternalID,
		&providerReference,
		&attempt.AmountMinorUnits,
		&attempt.Currency,
		&attempt.State,
		&providerTransactionID,
		&rawPayload,
		&attempt.OwnerID,
		&attempt.PlanID,
		&paymentURL,
		&failureReason,
		&refundAmount,
		&refundReason,
		&initiatedAt,
		&completedAt,
		&failedAt,
		&refundedAt,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	attempt.ProviderReference = providerReference.String
	attempt.ProviderTransactionID = providerTransactionID.String
	attempt.RawVerificationPayload = rawPayload
	attempt.PaymentURL = paymentURL.String
	attempt.FailureReason = failureReason.String
	attempt.RefundAmountMinorUnits = refundAmount.Int64
	attempt.RefundReason = refundReason.String
	if initiatedAt.Valid {
		attempt.InitiatedAt = initiatedAt.Time
	}
	if completedAt.Valid {
		attempt.CompletedAt = completedAt.Time
	}
	if failedAt.Valid {
		attempt.FailedAt = failedAt.Time
	}
	if refundedAt.Valid {
		attempt.RefundedAt = refundedAt.Time
	}

	return &attempt, nil
}

// Ensure PaymentAttemptRepository implements repository.PaymentAttemptRepository.
var _ repository.PaymentAttemptRepository = (*PaymentAttemptRepository)(nil)
