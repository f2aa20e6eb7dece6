package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"subscription/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationPaymentCompleted      NotificationType = "PAYMENT_COMPLETED"
	NotificationPaymentFailed         NotificationType = "PAYMENT_FAILED"
	NotificationRefundCompleted       NotificationType = "REFUND_COMPLETED"
	NotificationSubscriptionActivated NotificationType = "SUBSCRIPTION_ACTIVATED"
	NotificationReceiptReady          NotificationType = "RECEIPT_READY"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string // owner ID
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}

// NotificationService handles notification delivery.
// Delivery is best-effort and happens after the ledger write committed.
type NotificationService struct{}

// NewNotificationService creates a new NotificationService.
func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// NotifyPaymentCompleted tells the owner their payment was confirmed.
func (s *NotificationService) NotifyPaymentCompleted(ctx context.Context, attempt *domain.PaymentAttempt) error {
	return s.send(ctx, Notification{
		Type:        NotificationPaymentCompleted,
		RecipientID: attempt.OwnerID,
		Title:       "Payment Successful",
		Message:     fmt.Sprintf("Payment of %s %s was confirmed", attempt.Currency, domain.FormatMinorUnits(attempt.AmountMinorUnits)),
		Data: map[string]interface{}{
			"payment_id":     attempt.ExternalID,
			"transaction_id": attempt.ProviderTransactionID,
			"amount":         attempt.AmountMinorUnits,
		},
	})
}

// NotifyPaymentFailed tells the owner their payment did not go through.
func (s *NotificationService) NotifyPaymentFailed(ctx context.Context, attempt *domain.PaymentAttempt, status domain.RemoteStatus) error {
	return s.send(ctx, Notification{
		Type:        NotificationPaymentFailed,
		RecipientID: attempt.OwnerID,
		Title:       "Payment Failed",
		Message:     fmt.Sprintf("Payment of %s %s was not completed. Please try again.", attempt.Currency, domain.FormatMinorUnits(attempt.AmountMinorUnits)),
		Data: map[string]interface{}{
			"payment_id": attempt.ExternalID,
			"status":     string(status),
			"reason":     attempt.FailureReason,
		},
	})
}

// NotifyRefundCompleted tells the owner money was returned.
func (s *NotificationService) NotifyRefundCompleted(ctx context.Context, attempt *domain.PaymentAttempt) error {
	return s.send(ctx, Notification{
		Type:        NotificationRefundCompleted,
		RecipientID: attempt.OwnerID,
		Title:       "Refund Processed",
		Message:     fmt.Sprintf("A refund of %s %s was processed", attempt.Currency, domain.FormatMinorUnits(attempt.RefundAmountMinorUnits)),
		Data: map[string]interface{}{
			"payment_id": attempt.ExternalID,
			"amount":     attempt.RefundAmountMinorUnits,
			"reason":     attempt.RefundReason,
		},
	})
}

// NotifySubscriptionActivated tells the owner their subscription is live.
func (s *NotificationService) NotifySubscriptionActivated(ctx context.Context, entitlement *domain.Entitlement, plan *domain.Plan) error {
	return s.send(ctx, Notification{
		Type:        NotificationSubscriptionActivated,
		RecipientID: entitlement.OwnerID,
		Title:       "Subscription Active",
		Message:     fmt.Sprintf("Your %s subscription is active until %s", plan.Name, entitlement.EndAt.Format("Jan 02, 2006")),
		Data: map[string]interface{}{
			"plan_id":  plan.ID,
			"start_at": entitlement.StartAt,
			"end_at":   entitlement.EndAt,
		},
	})
}

// NotifyReceiptReady tells the owner the receipt is ready.
func (s *NotificationService) NotifyReceiptReady(ctx context.Context, receipt *domain.Receipt) error {
	return s.send(ctx, Notification{
		Type:        NotificationReceiptReady,
		RecipientID: receipt.OwnerID,
		Title:       "Receipt Ready",
		Message:     fmt.Sprintf("Your receipt for %s %s is ready", receipt.Currency, domain.FormatMinorUnits(receipt.AmountMinorUnits)),
		Data: map[string]interface{}{
			"receipt_id": receipt.ID,
			"payment_id": receipt.ExternalID,
			"body":       receipt.Text,
		},
	})
}

// send delivers a notification (log-backed).
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	notification.ID = uuid.New().String()
	notification.CreatedAt = time.Now()

	log.Printf("[NOTIFICATION] Type=%s, Recipient=%s, Title=%s, Message=%s",
		notification.Type, notification.RecipientID, notification.Title, notification.Message)

	return nil
}
