package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"subscription/internal/config"
	"subscription/internal/domain"
	"subscription/internal/gateway"
	"subscription/internal/redis"
	"subscription/internal/repository"
)

// OutcomeKind classifies the result of a verification request.
type OutcomeKind string

const (
	// OutcomeSuccess means the payment is confirmed and the entitlement granted.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeNotConfirmed means the provider answered authoritatively that the
	// payment is not settled. NormalizedStatus says why.
	OutcomeNotConfirmed OutcomeKind = "not_confirmed"

	// OutcomeGatewayUnavailable means the provider could not be asked. Nothing
	// changed; the caller may retry.
	OutcomeGatewayUnavailable OutcomeKind = "gateway_unavailable"

	// OutcomeNotFound means there is no such attempt for the requesting owner.
	OutcomeNotFound OutcomeKind = "not_found"

	// OutcomeInProgress means another request is verifying the same attempt.
	// The caller may retry.
	OutcomeInProgress OutcomeKind = "in_progress"

	// OutcomeInternalError means an invariant was violated or storage failed.
	OutcomeInternalError OutcomeKind = "internal_error"
)

// Outcome is the transport-agnostic result of VerifyAndActivate.
type Outcome struct {
	Kind             OutcomeKind
	NormalizedStatus domain.RemoteStatus
	Message          string
	Attempt          *domain.PaymentAttempt
	Entitlement      *domain.Entitlement
	Receipt          *domain.Receipt // set only on the call that activated
	AlreadyVerified  bool
	Err              error
}

// Retryable reports whether repeating the request may produce a different outcome.
func (o *Outcome) Retryable() bool {
	return o.Kind == OutcomeGatewayUnavailable || o.Kind == OutcomeInProgress
}

// VerificationService confirms payments with the provider and activates
// subscriptions exactly once per payment attempt.
type VerificationService struct {
	store               repository.Store
	psp                 PSP
	locker              *attemptLocker
	subscriptionService *SubscriptionService
	notificationService *NotificationService
	receiptService      *ReceiptService
	maxAttempts         int
	retryBackoff        time.Duration
	gatewayTimeout      time.Duration
}

// NewVerificationService creates a new VerificationService.
// lockStore may be nil; the ledger compare-and-set alone then guards activation.
func NewVerificationService(
	store repository.Store,
	psp PSP,
	lockStore redis.LockStoreInterface,
	subscriptionService *SubscriptionService,
	notificationService *NotificationService,
	receiptService *ReceiptService,
	cfg config.VerificationConfig,
	gatewayTimeout time.Duration,
) *VerificationService {
	maxAttempts := cfg.MaxGatewayAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &VerificationService{
		store:               store,
		psp:                 psp,
		locker:              newAttemptLocker(lockStore, cfg.LockTTL, cfg.LockWait),
		subscriptionService: subscriptionService,
		notificationService: notificationService,
		receiptService:      receiptService,
		maxAttempts:         maxAttempts,
		retryBackoff:        cfg.RetryBackoff,
		gatewayTimeout:      gatewayTimeout,
	}
}

// VerifyAndActivate asks the provider for the authoritative status of the
// owner's payment attempt, records it, and grants the subscription the first
// time the attempt reaches COMPLETED. Repeated or concurrent calls for the same
// attempt never grant twice.
func (s *VerificationService) VerifyAndActivate(ctx context.Context, externalID, ownerID string) *Outcome {
	if externalID == "" || ownerID == "" {
		return notFoundOutcome()
	}

	attempt, err := s.store.Attempts().GetByExternalIDForOwner(ctx, externalID, ownerID)
	if err != nil {
		if isNotFound(err) {
			return notFoundOutcome()
		}
		return internalOutcome(attempt, err)
	}

	if outcome := s.settledOutcome(ctx, attempt); outcome != nil {
		return outcome
	}

	release, err := s.locker.lock(ctx, externalID)
	if err != nil {
		return inProgressOutcome(attempt)
	}
	defer release()

	// Re-read under the lock: a previous holder may have finished the work.
	attempt, err = s.store.Attempts().GetByExternalID(ctx, externalID)
	if err != nil {
		return internalOutcome(nil, err)
	}

	if outcome := s.settledOutcome(ctx, attempt); outcome != nil {
		return outcome
	}

	result, err := s.lookupWithRetry(ctx, attempt.ProviderReference)
	if err != nil {
		if isGatewayFailure(err) {
			log.Printf("[VERIFY] attempt=%s pidx=%s gateway unavailable: %v", attempt.ExternalID, attempt.ProviderReference, err)
			return gatewayUnavailableOutcome(attempt, err)
		}
		return internalOutcome(attempt, err)
	}

	next := attempt.State.Next(result.Status)
	if err := domain.ValidateTransition(attempt.State, next); err != nil {
		return internalOutcome(attempt, err)
	}

	if next == domain.PaymentStateCompleted {
		return s.complete(ctx, attempt, result)
	}

	return s.recordNotConfirmed(ctx, attempt, next, result)
}

// VerifyByProviderReference resolves the attempt behind a provider redirect and verifies it.
func (s *VerificationService) VerifyByProviderReference(ctx context.Context, providerReference, ownerID string) *Outcome {
	if providerReference == "" || ownerID == "" {
		return notFoundOutcome()
	}

	attempt, err := s.store.Attempts().GetByProviderReferenceForOwner(ctx, providerReference, ownerID)
	if err != nil {
		if isNotFound(err) {
			return notFoundOutcome()
		}
		return internalOutcome(nil, err)
	}

	return s.VerifyAndActivate(ctx, attempt.ExternalID, ownerID)
}

// settledOutcome returns the answer for attempts that must not reach the
// provider, or nil if the provider has to be asked.
func (s *VerificationService) settledOutcome(ctx context.Context, attempt *domain.PaymentAttempt) *Outcome {
	switch {
	case attempt.State == domain.PaymentStateCompleted:
		return s.alreadyVerifiedOutcome(ctx, attempt)

	case attempt.State == domain.PaymentStateRefunded:
		return &Outcome{
			Kind:             OutcomeNotConfirmed,
			NormalizedStatus: domain.RemoteStatusRefunded,
			Message:          statusMessage(domain.RemoteStatusRefunded),
			Attempt:          attempt,
		}

	case attempt.ProviderReference == "":
		// The provider never accepted this attempt, so there is nothing to look up.
		return &Outcome{
			Kind:             OutcomeNotConfirmed,
			NormalizedStatus: domain.RemoteStatusInitiated,
			Message:          statusMessage(domain.RemoteStatusInitiated),
			Attempt:          attempt,
		}
	}

	return nil
}

func (s *VerificationService) alreadyVerifiedOutcome(ctx context.Context, attempt *domain.PaymentAttempt) *Outcome {
	outcome := &Outcome{
		Kind:             OutcomeSuccess,
		NormalizedStatus: domain.RemoteStatusCompleted,
		Message:          "payment already verified",
		Attempt:          attempt,
		AlreadyVerified:  true,
	}

	// The entitlement may since have been renewed by a later attempt; report it anyway.
	if entitlement, err := s.store.Entitlements().GetByOwnerID(ctx, attempt.OwnerID); err == nil {
		outcome.Entitlement = entitlement
	}

	return outcome
}

// complete moves the attempt to COMPLETED and grants the entitlement in one transaction.
func (s *VerificationService) complete(ctx context.Context, attempt *domain.PaymentAttempt, result *gateway.LookupResult) *Outcome {
	if result.TotalAmountMinorUnits != attempt.AmountMinorUnits {
		log.Printf("[VERIFY] attempt=%s amount mismatch: expected=%d settled=%d",
			attempt.ExternalID, attempt.AmountMinorUnits, result.TotalAmountMinorUnits)
		s.recordPayload(ctx, attempt, result)
		return internalOutcome(attempt, fmt.Errorf("%w: expected %d, provider reported %d",
			ErrAmountMismatch, attempt.AmountMinorUnits, result.TotalAmountMinorUnits))
	}

	if result.ProviderTransactionID == "" {
		log.Printf("[VERIFY] attempt=%s provider reported completion without a transaction id", attempt.ExternalID)
		s.recordPayload(ctx, attempt, result)
		return internalOutcome(attempt, ErrMissingTransactionID)
	}

	t := domain.Transition{
		ExternalID:            attempt.ExternalID,
		From:                  attempt.State,
		To:                    domain.PaymentStateCompleted,
		ProviderTransactionID: result.ProviderTransactionID,
		RawPayload:            result.Raw,
		At:                    time.Now(),
	}

	completed := *attempt
	t.Apply(&completed)

	var (
		entitlement *domain.Entitlement
		plan        *domain.Plan
	)

	// Once the provider confirmed, a cancelled request must not abort the commit.
	txCtx := context.WithoutCancel(ctx)
	err := s.store.WithinTx(txCtx, func(tx repository.Store) error {
		if err := tx.Attempts().Transition(txCtx, t); err != nil {
			return err
		}

		var err error
		entitlement, plan, err = s.subscriptionService.Grant(txCtx, tx, &completed)
		return err
	})
	if err != nil {
		return s.resolveConflict(ctx, attempt, err)
	}

	log.Printf("[VERIFY] attempt=%s completed txn=%s, subscription active until %s",
		completed.ExternalID, completed.ProviderTransactionID, entitlement.EndAt.Format(time.RFC3339))

	s.subscriptionService.RefreshCache(context.WithoutCancel(ctx), entitlement)

	outcome := &Outcome{
		Kind:             OutcomeSuccess,
		NormalizedStatus: domain.RemoteStatusCompleted,
		Message:          "payment verified and subscription activated",
		Attempt:          &completed,
		Entitlement:      entitlement,
	}

	if s.notificationService != nil {
		_ = s.notificationService.NotifyPaymentCompleted(ctx, &completed)
		_ = s.notificationService.NotifySubscriptionActivated(ctx, entitlement, plan)
	}

	if s.receiptService != nil {
		if receipt, err := s.receiptService.GenerateReceipt(ctx, &completed, plan, entitlement); err == nil {
			outcome.Receipt = receipt
		}
	}

	return outcome
}

// recordPayload keeps the provider's answer for audit when it could not be acted on.
func (s *VerificationService) recordPayload(ctx context.Context, attempt *domain.PaymentAttempt, result *gateway.LookupResult) {
	err := s.store.Attempts().RecordVerificationPayload(context.WithoutCancel(ctx), attempt.ExternalID, attempt.State, result.Raw)
	if err != nil {
		log.Printf("[VERIFY] attempt=%s could not store provider response: %v", attempt.ExternalID, err)
		return
	}
	attempt.RawVerificationPayload = result.Raw
}

// recordNotConfirmed stores an authoritative non-success answer.
func (s *VerificationService) recordNotConfirmed(ctx context.Context, attempt *domain.PaymentAttempt, next domain.PaymentState, result *gateway.LookupResult) *Outcome {
	t := domain.Transition{
		ExternalID: attempt.ExternalID,
		From:       attempt.State,
		To:         next,
		RawPayload: result.Raw,
		At:         time.Now(),
	}
	if next == domain.PaymentStateFailed && attempt.State != domain.PaymentStateFailed {
		t.FailureReason = "provider status: " + string(result.Status)
	}

	if err := s.store.Attempts().Transition(context.WithoutCancel(ctx), t); err != nil {
		return s.resolveConflict(ctx, attempt, err)
	}

	previous := attempt.State
	updated := *attempt
	t.Apply(&updated)

	log.Printf("[VERIFY] attempt=%s not confirmed: remote=%s state=%s->%s",
		attempt.ExternalID, result.Status, previous, next)

	if next == domain.PaymentStateFailed && previous != domain.PaymentStateFailed && s.notificationService != nil {
		_ = s.notificationService.NotifyPaymentFailed(ctx, &updated, result.Status)
	}

	return &Outcome{
		Kind:             OutcomeNotConfirmed,
		NormalizedStatus: result.Status,
		Message:          statusMessage(result.Status),
		Attempt:          &updated,
	}
}

// resolveConflict handles a failed ledger write. Losing a compare-and-set race
// to a request that completed the attempt is reported as success.
func (s *VerificationService) resolveConflict(ctx context.Context, attempt *domain.PaymentAttempt, err error) *Outcome {
	if !errors.Is(err, repository.ErrStateConflict) {
		log.Printf("[VERIFY] attempt=%s ledger write failed: %v", attempt.ExternalID, err)
		return internalOutcome(attempt, err)
	}

	current, getErr := s.store.Attempts().GetByExternalID(ctx, attempt.ExternalID)
	if getErr != nil {
		return internalOutcome(attempt, getErr)
	}

	if current.IsCompleted() {
		return s.alreadyVerifiedOutcome(ctx, current)
	}

	return inProgressOutcome(current)
}

// lookupWithRetry calls the provider, repeating only transient failures with
// exponential backoff. Every call gets its own timeout.
func (s *VerificationService) lookupWithRetry(ctx context.Context, providerReference string) (*gateway.LookupResult, error) {
	backoff := s.retryBackoff
	var lastErr error

	for i := 1; i <= s.maxAttempts; i++ {
		callCtx, cancel := withTimeout(ctx, s.gatewayTimeout)
		result, err := s.psp.Lookup(callCtx, providerReference)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err

		if !gateway.IsRetryable(err) || i == s.maxAttempts {
			break
		}

		log.Printf("[VERIFY] lookup pidx=%s attempt %d/%d failed, retrying in %s: %v",
			providerReference, i, s.maxAttempts, backoff, err)

		if err := sleepContext(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
	}

	return nil, lastErr
}

// isGatewayFailure reports whether err means "the provider could not tell us".
func isGatewayFailure(err error) bool {
	return errors.Is(err, gateway.ErrNetwork) ||
		errors.Is(err, gateway.ErrProtocol) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func statusMessage(status domain.RemoteStatus) string {
	switch status {
	case domain.RemoteStatusCompleted:
		return "payment completed"
	case domain.RemoteStatusPending:
		return "payment is pending confirmation from the provider"
	case domain.RemoteStatusInitiated:
		return "payment has not been completed"
	case domain.RemoteStatusUserCanceled:
		return "payment was canceled"
	case domain.RemoteStatusExpired:
		return "payment link has expired"
	case domain.RemoteStatusRefunded:
		return "payment was refunded"
	default:
		return "payment status could not be confirmed"
	}
}

func notFoundOutcome() *Outcome {
	return &Outcome{
		Kind:    OutcomeNotFound,
		Message: "payment not found",
		Err:     repository.ErrNotFound,
	}
}

func inProgressOutcome(attempt *domain.PaymentAttempt) *Outcome {
	return &Outcome{
		Kind:    OutcomeInProgress,
		Message: "payment is being verified, try again shortly",
		Attempt: attempt,
		Err:     ErrAttemptBusy,
	}
}

func gatewayUnavailableOutcome(attempt *domain.PaymentAttempt, err error) *Outcome {
	return &Outcome{
		Kind:    OutcomeGatewayUnavailable,
		Message: "payment provider is unavailable, try again later",
		Attempt: attempt,
		Err:     fmt.Errorf("%w: %w", ErrGatewayUnavailable, err),
	}
}

func internalOutcome(attempt *domain.PaymentAttempt, err error) *Outcome {
	return &Outcome{
		Kind:    OutcomeInternalError,
		Message: "payment could not be verified",
		Attempt: attempt,
		Err:     err,
	}
}
