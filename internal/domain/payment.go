package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PaymentState represents the local state of a payment attempt.
type PaymentState string

const (
	PaymentStateInitiated PaymentState = "INITIATED"
	PaymentStatePending   PaymentState = "PENDING"
	PaymentStateCompleted PaymentState = "COMPLETED"
	PaymentStateFailed    PaymentState = "FAILED"
	PaymentStateRefunded  PaymentState = "REFUNDED"
)

// PaymentStates lists every local state.
var PaymentStates = []PaymentState{
	PaymentStateInitiated,
	PaymentStatePending,
	PaymentStateCompleted,
	PaymentStateFailed,
	PaymentStateRefunded,
}

// ParsePaymentState matches a state name case-insensitively.
func ParsePaymentState(raw string) (PaymentState, bool) {
	for _, state := range PaymentStates {
		if strings.EqualFold(raw, string(state)) {
			return state, true
		}
	}
	return "", false
}

// ErrInvalidTransition is returned when a state change is not allowed by the ledger rules.
var ErrInvalidTransition = errors.New("invalid payment state transition")

// PaymentAttempt is a ledger entry for one attempt to pay for a plan.
// Attempts are never deleted; they form the audit trail.
type PaymentAttempt struct {
	ExternalID             string
	ProviderReference      string // pidx; empty until the provider accepted the initiation
	AmountMinorUnits       int64
	Currency               string
	State                  PaymentState
	ProviderTransactionID  string // set only on COMPLETED
	RawVerificationPayload []byte
	OwnerID                string
	PlanID                 string
	PaymentURL             string
	FailureReason          string
	RefundAmountMinorUnits int64
	RefundReason           string
	InitiatedAt            time.Time
	CompletedAt            time.Time
	FailedAt               time.Time
	RefundedAt             time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsCompleted reports whether the attempt has been authoritatively confirmed.
func (a *PaymentAttempt) IsCompleted() bool {
	return a.State == PaymentStateCompleted
}

// Next returns the state an attempt in state s moves to when the provider reports remote.
func (s PaymentState) Next(remote RemoteStatus) PaymentState {
	switch s {
	case PaymentStateInitiated:
		switch remote {
		case RemoteStatusCompleted:
			return PaymentStateCompleted
		case RemoteStatusPending:
			return PaymentStatePending
		default:
			return PaymentStateFailed
		}

	case PaymentStatePending:
		switch remote {
		case RemoteStatusCompleted:
			return PaymentStateCompleted
		case RemoteStatusPending, RemoteStatusInitiated:
			return PaymentStatePending
		default:
			return PaymentStateFailed
		}

	case PaymentStateFailed:
		// Late settlement: the provider may still complete a payment we gave up on.
		if remote == RemoteStatusCompleted {
			return PaymentStateCompleted
		}
		return PaymentStateFailed
	}

	// COMPLETED and REFUNDED do not react to verification.
	return s
}

// allowedTransitions lists every from -> to pair the ledger accepts.
var allowedTransitions = map[PaymentState][]PaymentState{
	PaymentStateInitiated: {PaymentStatePending, PaymentStateCompleted, PaymentStateFailed},
	PaymentStatePending:   {PaymentStatePending, PaymentStateCompleted, PaymentStateFailed},
	PaymentStateFailed:    {PaymentStateFailed, PaymentStateCompleted},
	PaymentStateCompleted: {PaymentStateRefunded},
}

// ValidateTransition checks that moving from -> to is permitted.
func ValidateTransition(from, to PaymentState) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Transition describes a compare-and-set change of an attempt's state.
type Transition struct {
	ExternalID             string
	From                   PaymentState
	To                     PaymentState
	ProviderTransactionID  string
	RawPayload             []byte
	FailureReason          string
	RefundAmountMinorUnits int64
	RefundReason           string
	At                     time.Time
}

// Apply copies the transition onto an in-memory attempt.
func (t Transition) Apply(a *PaymentAttempt) {
	if t.From != t.To {
		switch t.To {
		case PaymentStateCompleted:
			a.CompletedAt = t.At
		case PaymentStateFailed:
			a.FailedAt = t.At
		case PaymentStateRefunded:
			a.RefundedAt = t.At
		}
	}
	a.State = t.To
	if t.RawPayload != nil {
		a.RawVerificationPayload = t.RawPayload
	}
	if t.ProviderTransactionID != "" {
		a.ProviderTransactionID = t.ProviderTransactionID
	}
	if t.FailureReason != "" {
		a.FailureReason = t.FailureReason
	}
	if t.RefundAmountMinorUnits > 0 {
		a.RefundAmountMinorUnits = t.RefundAmountMinorUnits
	}
	if t.RefundReason != "" {
		a.RefundReason = t.RefundReason
	}
	a.UpdatedAt = t.At
}
