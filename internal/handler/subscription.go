package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"subscription/internal/domain"
	"subscription/internal/middleware"
	"subscription/internal/service"
)

// SubscriptionHandler handles HTTP requests for plans and subscriptions.
type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService}
}

// PlanResponse is the HTTP view of a plan.
type PlanResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	Description     string `json:"description,omitempty"`
	Price           string `json:"price"`
	PriceMinorUnits int64  `json:"price_minor_units"`
	Currency        string `json:"currency"`
	Duration        string `json:"duration"`
	DurationDays    int    `json:"duration_days"`
}

// ListPlans handles GET /v1/plans
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	plans, err := h.subscriptionService.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, toPlanResponse(p))
	}

	respondJSON(c, http.StatusOK, resp)
}

// Current handles GET /v1/subscriptions/current
func (h *SubscriptionHandler) Current(c *gin.Context) {
	entitlement, err := h.subscriptionService.GetCurrent(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toSubscriptionResponse(entitlement, time.Now()))
}

func toPlanResponse(p *domain.Plan) PlanResponse {
	return PlanResponse{
		ID:              p.ID,
		Name:            p.Name,
		Slug:            p.Slug,
		Description:     p.Description,
		Price:           domain.FormatMinorUnits(p.PriceMinorUnits),
		PriceMinorUnits: p.PriceMinorUnits,
		Currency:        p.Currency,
		Duration:        string(p.Duration),
		DurationDays:    p.DurationDays(),
	}
}
