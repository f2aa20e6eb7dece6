package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"subscription/internal/domain"
	"subscription/internal/repository"
	"subscription/internal/service"
)

// retryAfterSeconds is sent with responses the client should repeat later.
const retryAfterSeconds = 5

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		log.Printf("[HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(code, ErrorResponse{Error: "internal server error"})
		return
	}
	if code == http.StatusServiceUnavailable || code == http.StatusConflict {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrPlanNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidOwnerID),
		errors.Is(err, service.ErrInvalidExternalID),
		errors.Is(err, service.ErrInvalidPlanID),
		errors.Is(err, service.ErrInvalidRefundAmount),
		errors.Is(err, service.ErrInvalidPaymentFilter):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrAttemptNotCompleted),
		errors.Is(err, service.ErrAttemptBusy),
		errors.Is(err, repository.ErrStateConflict):
		return http.StatusConflict

	// Upstream errors
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrGatewayRejected):
		return http.StatusBadGateway

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// mapOutcomeToHTTPStatus maps a verification outcome to an HTTP status code.
func mapOutcomeToHTTPStatus(kind service.OutcomeKind) int {
	switch kind {
	case service.OutcomeSuccess:
		return http.StatusOK
	case service.OutcomeNotConfirmed:
		return http.StatusPaymentRequired
	case service.OutcomeNotFound:
		return http.StatusNotFound
	case service.OutcomeInProgress:
		return http.StatusConflict
	case service.OutcomeGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PaymentResponse is the HTTP view of a payment attempt.
type PaymentResponse struct {
	ID                    string     `json:"id"`
	Pidx                  string     `json:"pidx,omitempty"`
	PlanID                string     `json:"plan_id"`
	Amount                string     `json:"amount"`
	AmountMinorUnits      int64      `json:"amount_minor_units"`
	Currency              string     `json:"currency"`
	State                 string     `json:"state"`
	PaymentURL            string     `json:"payment_url,omitempty"`
	ProviderTransactionID string     `json:"transaction_id,omitempty"`
	FailureReason         string     `json:"failure_reason,omitempty"`
	RefundAmount          string     `json:"refund_amount,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	FailedAt              *time.Time `json:"failed_at,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
}

// PaymentListResponse is one page of payment history.
type PaymentListResponse struct {
	Payments []*PaymentResponse `json:"payments"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// SubscriptionResponse is the HTTP view of an entitlement.
type SubscriptionResponse struct {
	PlanID          string    `json:"plan_id"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	IsActive        bool      `json:"is_active"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	SourcePaymentID string    `json:"source_payment_id"`
}

// ReceiptResponse is the HTTP view of a purchase receipt.
type ReceiptResponse struct {
	ID            string    `json:"id"`
	PaymentID     string    `json:"payment_id"`
	TransactionID string    `json:"transaction_id"`
	PlanName      string    `json:"plan_name"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidUntil    time.Time `json:"valid_until"`
	Text          string    `json:"text"`
}

// VerificationResponse is the HTTP view of a verification outcome.
type VerificationResponse struct {
	Outcome         string                `json:"outcome"`
	Status          string                `json:"status,omitempty"`
	Message         string                `json:"message"`
	Retryable       bool                  `json:"retryable"`
	AlreadyVerified bool                  `json:"already_verified,omitempty"`
	Payment         *PaymentResponse      `json:"payment,omitempty"`
	Subscription    *SubscriptionResponse `json:"subscription,omitempty"`
	Receipt         *ReceiptResponse      `json:"receipt,omitempty"`
}

func toPaymentResponse(a *domain.PaymentAttempt) *PaymentResponse {
	resp := &PaymentResponse{
		ID:                    a.ExternalID,
		Pidx:                  a.ProviderReference,
		PlanID:                a.PlanID,
		Amount:                domain.FormatMinorUnits(a.AmountMinorUnits),
		AmountMinorUnits:      a.AmountMinorUnits,
		Currency:              a.Currency,
		State:                 string(a.State),
		PaymentURL:            a.PaymentURL,
		ProviderTransactionID: a.ProviderTransactionID,
		FailureReason:         a.FailureReason,
		CreatedAt:             a.CreatedAt,
		CompletedAt:           optionalTime(a.CompletedAt),
		FailedAt:              optionalTime(a.FailedAt),
		RefundedAt:            optionalTime(a.RefundedAt),
	}
	if a.RefundAmountMinorUnits > 0 {
		resp.RefundAmount = domain.FormatMinorUnits(a.RefundAmountMinorUnits)
	}
	return resp
}

func toSubscriptionResponse(e *domain.Entitlement, now time.Time) *SubscriptionResponse {
	return &SubscriptionResponse{
		PlanID:          e.PlanID,
		StartAt:         e.StartAt,
		EndAt:           e.EndAt,
		IsActive:        e.IsActive(now),
		DaysUntilExpiry: e.DaysUntilExpiry(now),
		SourcePaymentID: e.SourceAttemptID,
	}
}

func toReceiptResponse(r *domain.Receipt) *ReceiptResponse {
	return &ReceiptResponse{
		ID:            r.ID,
		PaymentID:     r.ExternalID,
		TransactionID: r.ProviderTransactionID,
		PlanName:      r.PlanName,
		Amount:        domain.FormatMinorUnits(r.AmountMinorUnits),
		Currency:      r.Currency,
		ValidFrom:     r.ValidFrom,
		ValidUntil:    r.ValidUntil,
		Text:          r.Text,
	}
}

// respondOutcome renders a verification outcome.
func respondOutcome(c *gin.Context, outcome *service.Outcome) {
	resp := VerificationResponse{
		Outcome:         string(outcome.Kind),
		Status:          string(outcome.NormalizedStatus),
		Message:         outcome.Message,
		Retryable:       outcome.Retryable(),
		AlreadyVerified: outcome.AlreadyVerified,
	}

	// Nothing about an attempt is revealed unless the caller owns it.
	if outcome.Kind != service.OutcomeNotFound && outcome.Attempt != nil {
		resp.Payment = toPaymentResponse(outcome.Attempt)
	}
	if outcome.Entitlement != nil {
		resp.Subscription = toSubscriptionResponse(outcome.Entitlement, time.Now())
	}
	if outcome.Receipt != nil {
		resp.Receipt = toReceiptResponse(outcome.Receipt)
	}

	if outcome.Kind == service.OutcomeInternalError && outcome.Err != nil {
		log.Printf("[HTTP] %s %s: verification failed: %v", c.Request.Method, c.FullPath(), outcome.Err)
	}
	if outcome.Retryable() {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	respondJSON(c, mapOutcomeToHTTPStatus(outcome.Kind), resp)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
