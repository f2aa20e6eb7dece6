package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"subscription/internal/domain"
	"subscription/internal/gateway"
	"subscription/internal/middleware"
	"subscription/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService      *service.PaymentService
	verificationService *service.VerificationService
	refundService       *service.RefundService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(
	paymentService *service.PaymentService,
	verificationService *service.VerificationService,
	refundService *service.RefundService,
) *PaymentHandler {
	return &PaymentHandler{
		paymentService:      paymentService,
		verificationService: verificationService,
		refundService:       refundService,
	}
}

// InitiatePaymentRequest is the HTTP request body for starting a purchase.
type InitiatePaymentRequest struct {
	PlanID   string `json:"plan_id"`
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	ReturnURL  string `json:"return_url,omitempty"`
	WebsiteURL string `json:"website_url,omitempty"`
}

// VerifyPaymentRequest is the HTTP request body for verifying a payment.
type VerifyPaymentRequest struct {
	ExternalID string `json:"external_id"`
}

// RefundPaymentRequest is the HTTP request body for refunding a payment.
type RefundPaymentRequest struct {
	Amount string `json:"amount,omitempty"` // major units, e.g. "250.00"; empty refunds everything
	Reason string `json:"reason"`
}

// Initiate handles POST /v1/payments/initiate
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.PlanID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "plan_id is required"})
		return
	}

	attempt, err := h.paymentService.Initiate(c.Request.Context(), service.InitiateRequest{
		OwnerID: middleware.OwnerID(c),
		PlanID:  req.PlanID,
		Customer: gateway.CustomerInfo{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		ReturnURL:  req.ReturnURL,
		WebsiteURL: req.WebsiteURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toPaymentResponse(attempt))
}

// Verify handles POST /v1/payments/verify
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if req.ExternalID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "external_id is required"})
		return
	}

	outcome := h.verificationService.VerifyAndActivate(c.Request.Context(), req.ExternalID, middleware.OwnerID(c))
	respondOutcome(c, outcome)
}

// Callback handles GET /v1/payments/callback
//
// The provider redirects the payer with ?pidx=...&purchase_order_id=...; the
// frontend forwards those query parameters here. The redirect itself is never
// trusted, it only says which attempt to verify.
func (h *PaymentHandler) Callback(c *gin.Context) {
	ownerID := middleware.OwnerID(c)

	if pidx := strings.TrimSpace(c.Query("pidx")); pidx != "" {
		respondOutcome(c, h.verificationService.VerifyByProviderReference(c.Request.Context(), pidx, ownerID))
		return
	}

	if externalID := strings.TrimSpace(c.Query("purchase_order_id")); externalID != "" {
		respondOutcome(c, h.verificationService.VerifyAndActivate(c.Request.Context(), externalID, ownerID))
		return
	}

	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pidx is required"})
}

// ListPayments handles GET /v1/payments
//
// Query parameters: state (repeatable or comma separated), created_after,
// created_before (RFC 3339 or YYYY-MM-DD), limit, offset.
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	req := service.ListPaymentsRequest{OwnerID: middleware.OwnerID(c)}

	for _, param := range c.QueryArray("state") {
		for _, raw := range strings.Split(param, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			state, ok := domain.ParsePaymentState(raw)
			if !ok {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown state: " + raw})
				return
			}
			req.States = append(req.States, state)
		}
	}

	var err error
	if req.CreatedAfter, err = parseTimeQuery(c, "created_after"); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.CreatedBefore, err = parseTimeQuery(c, "created_before"); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Limit, err = parseIntQuery(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Offset, err = parseIntQuery(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	page, err := h.paymentService.ListPayments(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := PaymentListResponse{
		Payments: make([]*PaymentResponse, 0, len(page.Payments)),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	for _, attempt := range page.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(attempt))
	}

	respondJSON(c, http.StatusOK, resp)
}

// GetPayment handles GET /v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	attempt, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(attempt))
}

// Refund handles POST /v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var amount int64
	if req.Amount != "" {
		parsed, err := domain.ParseMajorUnits(req.Amount)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be a positive decimal with at most two places"})
			return
		}
		amount = parsed
	}

	attempt, err := h.refundService.Refund(c.Request.Context(), service.RefundRequest{
		ExternalID:       c.Param("id"),
		AmountMinorUnits: amount,
		Reason:           req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(attempt))
}

func parseTimeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name)
	}
	return t, nil
}

func parseIntQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
