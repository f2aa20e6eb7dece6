package gateway

import "subscription/internal/domain"

// CustomerInfo is shown to the payer on the provider's checkout page.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// InitiateRequest creates a payment on the provider side.
type InitiateRequest struct {
	ReturnURL         string       `json:"return_url"`
	WebsiteURL        string       `json:"website_url"`
	AmountMinorUnits  int64        `json:"amount"`
	PurchaseOrderID   string       `json:"purchase_order_id"`
	PurchaseOrderName string       `json:"purchase_order_name"`
	Customer          CustomerInfo `json:"customer_info"`
}

// InitiateResult is the provider's answer to an initiation.
type InitiateResult struct {
	ProviderReference string
	PaymentURL        string
	ExpiresAt         string
	Raw               []byte
}

// LookupResult is the normalized, authoritative status of a payment.
type LookupResult struct {
	Status                domain.RemoteStatus
	RawStatus             string
	ProviderTransactionID string
	TotalAmountMinorUnits int64
	Raw                   []byte
}

// RefundRequest asks the provider to return money for a settled payment.
// A zero amount refunds the full payment.
type RefundRequest struct {
	ProviderReference string
	AmountMinorUnits  int64
	Reason            string
}

// RefundResult is the provider's answer to a refund.
type RefundResult struct {
	RefundID string
	Raw      []byte
}

type initiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

type lookupRequest struct {
	Pidx string `json:"pidx"`
}

type lookupResponse struct {
	Pidx          string  `json:"pidx"`
	TotalAmount   int64   `json:"total_amount"`
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id"`
}

type refundRequest struct {
	Pidx   string `json:"pidx"`
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
}
