package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"subscription/internal/domain"
)

// ReceiptService handles receipt generation.
type ReceiptService struct {
	notificationService *NotificationService
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(notificationService *NotificationService) *ReceiptService {
	return &ReceiptService{
		notificationService: notificationService,
	}
}

// GenerateReceipt builds the purchase receipt for a confirmed payment.
func (s *ReceiptService) GenerateReceipt(ctx context.Context, attempt *domain.PaymentAttempt, plan *domain.Plan, entitlement *domain.Entitlement) (*domain.Receipt, error) {
	if attempt == nil || !attempt.IsCompleted() {
		return nil, ErrAttemptNotCompleted
	}

	receipt := &domain.Receipt{
		ID:                    uuid.New().String(),
		ExternalID:            attempt.ExternalID,
		ProviderTransactionID: attempt.ProviderTransactionID,
		OwnerID:               attempt.OwnerID,
		PlanID:                attempt.PlanID,
		AmountMinorUnits:      attempt.AmountMinorUnits,
		Currency:              attempt.Currency,
		PaymentState:          attempt.State,
		PaidAt:                attempt.CompletedAt,
		CreatedAt:             time.Now(),
	}
	if plan != nil {
		receipt.PlanName = plan.Name
	}
	if entitlement != nil {
		receipt.ValidFrom = entitlement.StartAt
		receipt.ValidUntil = entitlement.EndAt
	}
	receipt.Text = s.FormatReceipt(receipt)

	if s.notificationService != nil {
		_ = s.notificationService.NotifyReceiptReady(ctx, receipt)
	}

	return receipt, nil
}

// FormatReceipt formats the receipt as plain text (for email/print).
func (s *ReceiptService) FormatReceipt(receipt *domain.Receipt) string {
	var b strings.Builder

	line := func(label, value string) {
		b.WriteString(label)
		b.WriteString(strings.Repeat(" ", 16-len(label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString("=====================================\n")
	b.WriteString("        SUBSCRIPTION RECEIPT\n")
	b.WriteString("=====================================\n")
	line("Receipt ID:", receipt.ID)
	line("Payment ID:", receipt.ExternalID)
	line("Transaction:", receipt.ProviderTransactionID)
	line("Date:", receipt.CreatedAt.Format("Jan 02, 2006 3:04 PM"))
	b.WriteString("-------------------------------------\n")
	line("Plan:", receipt.PlanName)
	line("Valid from:", receipt.ValidFrom.Format("Jan 02, 2006"))
	line("Valid until:", receipt.ValidUntil.Format("Jan 02, 2006"))
	b.WriteString("-------------------------------------\n")
	line("TOTAL:", receipt.Currency+" "+domain.FormatMinorUnits(receipt.AmountMinorUnits))
	line("Status:", string(receipt.PaymentState))
	b.WriteString("=====================================\n")

	return b.String()
}
