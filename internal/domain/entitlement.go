package domain

import "time"

// Entitlement grants an owner access to a plan for a bounded window.
// There is at most one entitlement per owner; renewals overwrite it.
type Entitlement struct {
	OwnerID         string
	PlanID          string
	StartAt         time.Time
	EndAt           time.Time
	SourceAttemptID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive reports whether the entitlement window is still open at now.
func (e *Entitlement) IsActive(now time.Time) bool {
	return now.Before(e.EndAt)
}

// DaysUntilExpiry returns the whole days left in the window, or 0 once expired.
func (e *Entitlement) DaysUntilExpiry(now time.Time) int {
	if !e.IsActive(now) {
		return 0
	}
	return int(e.EndAt.Sub(now).Hours() / 24)
}
