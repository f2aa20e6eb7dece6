package domain

import "time"

// PlanDuration is the billing period a plan is sold for.
type PlanDuration string

const (
	PlanDurationMonthly   PlanDuration = "monthly"
	PlanDurationQuarterly PlanDuration = "quarterly"
	PlanDurationYearly    PlanDuration = "yearly"
)

// DefaultCurrency is used when a plan does not name one.
const DefaultCurrency = "NPR"

// Plan is a purchasable fixed-duration subscription.
type Plan struct {
	ID              string
	Name            string
	Slug            string
	Description     string
	PriceMinorUnits int64
	Currency        string
	Duration        PlanDuration
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DurationDays returns the number of days one purchase of the plan grants.
func (p *Plan) DurationDays() int {
	switch p.Duration {
	case PlanDurationQuarterly:
		return 90
	case PlanDurationYearly:
		return 365
	default:
		return 30
	}
}
