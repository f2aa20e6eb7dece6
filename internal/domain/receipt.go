package domain

import "time"

// Receipt represents a purchase receipt for a confirmed subscription payment.
type Receipt struct {
	ID                    string
	ExternalID            string
	ProviderTransactionID string
	OwnerID               string
	PlanID                string
	PlanName              string
	AmountMinorUnits      int64
	Currency              string
	PaymentState          PaymentState
	ValidFrom             time.Time
	ValidUntil            time.Time
	PaidAt                time.Time
	CreatedAt             time.Time
	Text                  string // printable rendering sent with the notification
}
