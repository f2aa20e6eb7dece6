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

// RefundService returns money for confirmed payments. It is an explicit admin
// flow and never touches the owner's entitlement.
type RefundService struct {
	store               repository.Store
	psp                 PSP
	locker              *attemptLocker
	notificationService *NotificationService
	gatewayTimeout      time.Duration
}

// NewRefundService creates a new RefundService.
func NewRefundService(
	store repository.Store,
	psp PSP,
	lockStore redis.LockStoreInterface,
	notificationService *NotificationService,
	cfg config.VerificationConfig,
	gatewayTimeout time.Duration,
) *RefundService {
	return &RefundService{
		store:               store,
		psp:                 psp,
		locker:              newAttemptLocker(lockStore, cfg.LockTTL, cfg.LockWait),
		notificationService: notificationService,
		gatewayTimeout:      gatewayTimeout,
	}
}

// RefundRequest contains the parameters for a refund.
type RefundRequest struct {
	ExternalID       string
	AmountMinorUnits int64 // Optional: 0 refunds the full amount
	Reason           string
}

// Refund asks the provider to refund a completed attempt and records it as REFUNDED.
func (s *RefundService) Refund(ctx context.Context, req RefundRequest) (*domain.PaymentAttempt, error) {
	if req.ExternalID == "" {
		return nil, ErrInvalidExternalID
	}

	release, err := s.locker.lock(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}
	defer release()

	attempt, err := s.store.Attempts().GetByExternalID(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}

	if !attempt.IsCompleted() {
		return nil, ErrAttemptNotCompleted
	}

	amount := req.AmountMinorUnits
	if amount == 0 {
		amount = attempt.AmountMinorUnits
	}
	if amount < 0 || amount > attempt.AmountMinorUnits {
		return nil, ErrInvalidRefundAmount
	}

	refundReq := gateway.RefundRequest{
		ProviderReference: attempt.ProviderReference,
		Reason:            req.Reason,
	}
	if amount < attempt.AmountMinorUnits {
		refundReq.AmountMinorUnits = amount
	}

	callCtx, cancel := withTimeout(ctx, s.gatewayTimeout)
	result, err := s.psp.Refund(callCtx, refundReq)
	cancel()

	if err != nil {
		log.Printf("[REFUND] attempt=%s pidx=%s refund failed: %v", attempt.ExternalID, attempt.ProviderReference, err)
		if gateway.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	t := domain.Transition{
		ExternalID:             attempt.ExternalID,
		From:                   domain.PaymentStateCompleted,
		To:                     domain.PaymentStateRefunded,
		RawPayload:             result.Raw,
		RefundAmountMinorUnits: amount,
		RefundReason:           req.Reason,
		At:                     time.Now(),
	}

	// The money is already on its way back; record it even if the caller went away.
	if err := s.store.Attempts().Transition(context.WithoutCancel(ctx), t); err != nil {
		log.Printf("[REFUND] attempt=%s refund_id=%s accepted by provider but not recorded: %v",
			attempt.ExternalID, result.RefundID, err)
		return nil, err
	}
	t.Apply(attempt)

	log.Printf("[REFUND] attempt=%s refunded %d refund_id=%s", attempt.ExternalID, amount, result.RefundID)

	if s.notificationService != nil {
		_ = s.notificationService.NotifyRefundCompleted(ctx, attempt)
	}

	return attempt, nil
}
