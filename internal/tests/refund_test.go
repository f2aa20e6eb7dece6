package tests

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription/internal/domain"
	"subscription/internal/service"
)

func completedAttempt(externalID, ownerID string) *domain.PaymentAttempt {
	attempt := AcceptedAttempt(externalID, ownerID)
	attempt.State = domain.PaymentStateCompleted
	attempt.ProviderTransactionID = "TXN-" + externalID
	attempt.CompletedAt = time.Now()
	return attempt
}

func newRefundService(store *MockStore, psp *MockPSP, locks *MockLockStore) *service.RefundService {
	return service.NewRefundService(store, psp, locks, service.NewNotificationService(), testVerificationConfig(), time.Second)
}

func TestRefund_FullAmount(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	store.AddAttempt(completedAttempt("attempt-1", "owner-1"))
	entitlement := &domain.Entitlement{
		OwnerID:         "owner-1",
		PlanID:          "plan-monthly",
		StartAt:         time.Now(),
		EndAt:           time.Now().AddDate(0, 0, 30),
		SourceAttemptID: "attempt-1",
	}
	store.AddEntitlement(entitlement)
	psp := NewMockPSP()
	locks := NewMockLockStore()

	attempt, err := newRefundService(store, psp, locks).Refund(context.Background(), service.RefundRequest{
		ExternalID: "attempt-1",
		Reason:     "duplicate purchase",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateRefunded, attempt.State)
	assert.Equal(t, int64(49900), attempt.RefundAmountMinorUnits)

	stored := store.GetAttempt("attempt-1")
	assert.Equal(t, domain.PaymentStateRefunded, stored.State)
	assert.Equal(t, "duplicate purchase", stored.RefundReason)
	assert.False(t, stored.RefundedAt.IsZero())
	assert.Equal(t, "TXN-attempt-1", stored.ProviderTransactionID)

	// A full refund omits the amount so the provider refunds everything.
	assert.Equal(t, int64(0), psp.LastRefundRequest.AmountMinorUnits)
	assert.Equal(t, "pidx-attempt-1", psp.LastRefundRequest.ProviderReference)

	// Entitlements are managed separately from refunds.
	assert.Equal(t, entitlement.EndAt.Unix(), store.GetEntitlement("owner-1").EndAt.Unix())
	assert.False(t, locks.IsHeld("attempt-1"))
}

func TestRefund_PartialAmount(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	store.AddAttempt(completedAttempt("attempt-1", "owner-1"))
	psp := NewMockPSP()

	attempt, err := newRefundService(store, psp, NewMockLockStore()).Refund(context.Background(), service.RefundRequest{
		ExternalID:       "attempt-1",
		AmountMinorUnits: 10000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), attempt.RefundAmountMinorUnits)
	assert.Equal(t, int64(10000), psp.LastRefundRequest.AmountMinorUnits)
}

func TestRefund_Rejections(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	store.AddAttempt(completedAttempt("attempt-1", "owner-1"))
	store.AddAttempt(AcceptedAttempt("attempt-2", "owner-1"))
	psp := NewMockPSP()
	svc := newRefundService(store, psp, NewMockLockStore())

	_, err := svc.Refund(context.Background(), service.RefundRequest{ExternalID: "attempt-1", AmountMinorUnits: 50000})
	assert.ErrorIs(t, err, service.ErrInvalidRefundAmount)

	_, err = svc.Refund(context.Background(), service.RefundRequest{ExternalID: "attempt-1", AmountMinorUnits: -1})
	assert.ErrorIs(t, err, service.ErrInvalidRefundAmount)

	_, err = svc.Refund(context.Background(), service.RefundRequest{ExternalID: "attempt-2"})
	assert.ErrorIs(t, err, service.ErrAttemptNotCompleted)

	_, err = svc.Refund(context.Background(), service.RefundRequest{})
	assert.ErrorIs(t, err, service.ErrInvalidExternalID)

	assert.Equal(t, int32(0), atomic.LoadInt32(&psp.RefundCallCount))
	assert.Equal(t, domain.PaymentStateCompleted, store.GetAttempt("attempt-1").State)
}

func TestRefund_ProviderFailureKeepsCompleted(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	store.AddAttempt(completedAttempt("attempt-1", "owner-1"))
	psp := NewMockPSP()
	psp.RefundError = HTTPError(503)

	_, err := newRefundService(store, psp, NewMockLockStore()).Refund(context.Background(), service.RefundRequest{ExternalID: "attempt-1"})

	assert.True(t, errors.Is(err, service.ErrGatewayUnavailable))
	assert.Equal(t, domain.PaymentStateCompleted, store.GetAttempt("attempt-1").State)
}

func TestRefund_RefundedAttemptCannotBeRefundedTwice(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	store.AddAttempt(completedAttempt("attempt-1", "owner-1"))
	psp := NewMockPSP()
	svc := newRefundService(store, psp, NewMockLockStore())

	_, err := svc.Refund(context.Background(), service.RefundRequest{ExternalID: "attempt-1"})
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), service.RefundRequest{ExternalID: "attempt-1"})
	assert.ErrorIs(t, err, service.ErrAttemptNotCompleted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&psp.RefundCallCount))
}
