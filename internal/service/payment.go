package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"subscription/internal/config"
	"subscription/internal/domain"
	"subscription/internal/gateway"
	"subscription/internal/repository"
)

// PSP is the interface for the payment service provider.
type PSP interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error)
	Lookup(ctx context.Context, providerReference string) (*gateway.LookupResult, error)
	Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error)
}

var _ PSP = (*gateway.Client)(nil)

// PaymentService creates payment attempts and serves reads of the ledger.
type PaymentService struct {
	store               repository.Store
	psp                 PSP
	notificationService *NotificationService
	gatewayCfg          config.GatewayConfig
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	store repository.Store,
	psp PSP,
	notificationService *NotificationService,
	gatewayCfg config.GatewayConfig,
) *PaymentService {
	return &PaymentService{
		store:               store,
		psp:                 psp,
		notificationService: notificationService,
		gatewayCfg:          gatewayCfg,
	}
}

// InitiateRequest contains the parameters for starting a purchase.
type InitiateRequest struct {
	OwnerID    string
	PlanID     string
	Customer   gateway.CustomerInfo
	ReturnURL  string // Optional: defaults to the configured return URL
	WebsiteURL string // Optional: defaults to the configured website URL
}

// Initiate records a new payment attempt for a plan and registers it with the
// provider. The returned attempt carries the URL the payer must be sent to.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (*domain.PaymentAttempt, error) {
	if req.OwnerID == "" {
		return nil, ErrInvalidOwnerID
	}

	if req.PlanID == "" {
		return nil, ErrInvalidPlanID
	}

	plan, err := s.store.Plans().GetByID(ctx, req.PlanID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}

	currency := plan.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	now := time.Now()
	attempt := &domain.PaymentAttempt{
		ExternalID:       uuid.New().String(),
		AmountMinorUnits: plan.PriceMinorUnits,
		Currency:         currency,
		State:            domain.PaymentStateInitiated,
		OwnerID:          req.OwnerID,
		PlanID:           plan.ID,
		InitiatedAt:      now,
		CreatedAt:        now,
	}

	if err := s.store.Attempts().Create(ctx, attempt); err != nil {
		return nil, err
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.gatewayCfg.ReturnURL
	}
	websiteURL := req.WebsiteURL
	if websiteURL == "" {
		websiteURL = s.gatewayCfg.WebsiteURL
	}

	callCtx, cancel := withTimeout(ctx, s.gatewayCfg.Timeout)
	result, err := s.psp.Initiate(callCtx, gateway.InitiateRequest{
		ReturnURL:         returnURL,
		WebsiteURL:        websiteURL,
		AmountMinorUnits:  attempt.AmountMinorUnits,
		PurchaseOrderID:   attempt.ExternalID,
		PurchaseOrderName: "Subscription - " + plan.Name,
		Customer:          req.Customer,
	})
	cancel()

	if err != nil {
		// Nothing was charged; the attempt is closed so it cannot be verified later.
		s.failInitiation(ctx, attempt, err)

		if gateway.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			return attempt, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return attempt, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	if err := s.store.Attempts().SetProviderReference(ctx, attempt.ExternalID, result.ProviderReference, result.PaymentURL, result.Raw); err != nil {
		// A pidx the provider hands out twice is an invariant breach, not a user error.
		log.Printf("[PAYMENT] could not record pidx=%s for attempt=%s: %v", result.ProviderReference, attempt.ExternalID, err)
		return nil, err
	}

	attempt.ProviderReference = result.ProviderReference
	attempt.PaymentURL = result.PaymentURL
	attempt.RawVerificationPayload = result.Raw

	return attempt, nil
}

func (s *PaymentService) failInitiation(ctx context.Context, attempt *domain.PaymentAttempt, cause error) {
	t := domain.Transition{
		ExternalID:    attempt.ExternalID,
		From:          domain.PaymentStateInitiated,
		To:            domain.PaymentStateFailed,
		FailureReason: "initiation failed: " + cause.Error(),
		At:            time.Now(),
	}

	if err := s.store.Attempts().Transition(context.WithoutCancel(ctx), t); err != nil {
		log.Printf("[PAYMENT] failed to close attempt=%s after initiation error: %v", attempt.ExternalID, err)
		return
	}
	t.Apply(attempt)

	if s.notificationService != nil {
		_ = s.notificationService.NotifyPaymentFailed(ctx, attempt, domain.RemoteStatusUnknown)
	}
}

// GetPayment retrieves an attempt owned by ownerID.
func (s *PaymentService) GetPayment(ctx context.Context, externalID, ownerID string) (*domain.PaymentAttempt, error) {
	if externalID == "" {
		return nil, ErrInvalidExternalID
	}

	if ownerID == "" {
		return nil, ErrInvalidOwnerID
	}

	return s.store.Attempts().GetByExternalIDForOwner(ctx, externalID, ownerID)
}

// Page sizes for payment history.
const (
	DefaultPaymentPageSize = 20
	MaxPaymentPageSize     = 100
)

// ListPaymentsRequest filters an owner's payment history.
type ListPaymentsRequest struct {
	OwnerID       string
	States        []domain.PaymentState
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int // 0 means DefaultPaymentPageSize
	Offset        int
}

// PaymentPage is one page of an owner's payment history.
type PaymentPage struct {
	Payments []*domain.PaymentAttempt
	Limit    int
	Offset   int
}

// ListPayments returns the owner's payment attempts, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, req ListPaymentsRequest) (*PaymentPage, error) {
	if req.OwnerID == "" {
		return nil, ErrInvalidOwnerID
	}

	states := make([]domain.PaymentState, 0, len(req.States))
	for _, raw := range req.States {
		state, ok := domain.ParsePaymentState(string(raw))
		if !ok {
			return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidPaymentFilter, raw)
		}
		states = append(states, state)
	}

	if !req.CreatedAfter.IsZero() && !req.CreatedBefore.IsZero() && !req.CreatedAfter.Before(req.CreatedBefore) {
		return nil, fmt.Errorf("%w: created_after must be before created_before", ErrInvalidPaymentFilter)
	}

	if req.Offset < 0 || req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidPaymentFilter)
	}

	limit := req.Limit
	switch {
	case limit == 0:
		limit = DefaultPaymentPageSize
	case limit > MaxPaymentPageSize:
		limit = MaxPaymentPageSize
	}

	payments, err := s.store.Attempts().ListByOwner(ctx, req.OwnerID, repository.AttemptFilter{
		States:        states,
		CreatedAfter:  req.CreatedAfter,
		CreatedBefore: req.CreatedBefore,
		Limit:         limit,
		Offset:        req.Offset,
	})
	if err != nil {
		return nil, err
	}

	return &PaymentPage{Payments: payments, Limit: limit, Offset: req.Offset}, nil
}

// withTimeout bounds a provider call. A zero timeout leaves ctx as is.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
