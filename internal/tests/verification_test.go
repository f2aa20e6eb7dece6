package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription/internal/config"
	"subscription/internal/domain"
	"subscription/internal/redis"
	"subscription/internal/repository"
	"subscription/internal/service"
)

var (
	_ repository.Store          = (*MockStore)(nil)
	_ redis.LockStoreInterface  = (*MockLockStore)(nil)
	_ redis.CacheStoreInterface = (*MockCacheStore)(nil)
	_ service.PSP               = (*MockPSP)(nil)
)

type verificationFixture struct {
	store *MockStore
	psp   *MockPSP
	locks *MockLockStore
	cache *MockCacheStore
	svc   *service.VerificationService
}

func testVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		MaxGatewayAttempts: 3,
		RetryBackoff:       time.Millisecond,
		LockWait:           5 * time.Second,
		LockTTL:            30 * time.Second,
	}
}

func newVerificationFixture(t *testing.T, cfg config.VerificationConfig, withLock bool) *verificationFixture {
	t.Helper()

	f := &verificationFixture{
		store: NewMockStore(),
		psp:   NewMockPSP(),
		locks: NewMockLockStore(),
		cache: NewMockCacheStore(),
	}
	f.store.AddPlan(TestPlan())

	var lockStore redis.LockStoreInterface
	if withLock {
		lockStore = f.locks
	}

	notificationService := service.NewNotificationService()
	subscriptionService := service.NewSubscriptionService(f.store, f.cache)
	f.svc = service.NewVerificationService(
		f.store,
		f.psp,
		lockStore,
		subscriptionService,
		notificationService,
		service.NewReceiptService(notificationService),
		cfg,
		time.Second,
	)
	return f
}

// ──────────────────────────────────────────────
// 1. ACTIVATION
// ──────────────────────────────────────────────

func TestVerify_CompletedPaymentActivatesSubscription(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	require.Equal(t, service.OutcomeSuccess, outcome.Kind, "err: %v", outcome.Err)
	assert.False(t, outcome.AlreadyVerified)
	assert.Equal(t, domain.RemoteStatusCompleted, outcome.NormalizedStatus)
	assert.Equal(t, domain.PaymentStateCompleted, outcome.Attempt.State)
	assert.Equal(t, "TXN-1", outcome.Attempt.ProviderTransactionID)

	stored := f.store.GetAttempt("attempt-1")
	assert.Equal(t, domain.PaymentStateCompleted, stored.State)
	assert.Equal(t, "TXN-1", stored.ProviderTransactionID)
	assert.NotEmpty(t, stored.RawVerificationPayload)
	assert.False(t, stored.CompletedAt.IsZero())

	require.NotNil(t, outcome.Entitlement)
	assert.Equal(t, "owner-1", outcome.Entitlement.OwnerID)
	assert.Equal(t, "plan-monthly", outcome.Entitlement.PlanID)
	assert.Equal(t, "attempt-1", outcome.Entitlement.SourceAttemptID)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), outcome.Entitlement.EndAt, time.Minute)

	require.NotNil(t, outcome.Receipt)
	assert.Equal(t, "TXN-1", outcome.Receipt.ProviderTransactionID)
	assert.Equal(t, "Monthly", outcome.Receipt.PlanName)
	assert.Contains(t, outcome.Receipt.Text, "SUBSCRIPTION RECEIPT")
	assert.Contains(t, outcome.Receipt.Text, "Transaction:    TXN-1")
	assert.Contains(t, outcome.Receipt.Text, "Plan:           Monthly")
	assert.Contains(t, outcome.Receipt.Text, "TOTAL:          NPR 499.00")
	assert.Contains(t, outcome.Receipt.Text, "Status:         COMPLETED")

	assert.Len(t, f.store.Grants(), 1)
	cached := f.cache.CachedEntitlement("owner-1")
	require.NotNil(t, cached, "activation must write the new entitlement through to the cache")
	assert.Equal(t, "attempt-1", cached.SourceAttemptID)
	assert.Equal(t, outcome.Entitlement.UpdatedAt.UnixMilli(), cached.Version)
	assert.False(t, f.locks.IsHeld("attempt-1"), "lock must be released")
}

func TestVerify_RenewalResetsWindow(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	now := time.Now()
	f.store.AddEntitlement(&domain.Entitlement{
		OwnerID:         "owner-1",
		PlanID:          "plan-monthly",
		StartAt:         now.AddDate(0, 0, -10),
		EndAt:           now.AddDate(0, 0, 20),
		SourceAttemptID: "attempt-old",
	})
	f.store.AddAttempt(AcceptedAttempt("attempt-new", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-2", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-new", "owner-1")
	require.Equal(t, service.OutcomeSuccess, outcome.Kind)

	entitlement := f.store.GetEntitlement("owner-1")
	require.NotNil(t, entitlement)
	assert.Equal(t, "attempt-new", entitlement.SourceAttemptID)
	assert.WithinDuration(t, time.Now(), entitlement.StartAt, time.Minute)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), entitlement.EndAt, time.Minute)
}

// ──────────────────────────────────────────────
// 2. EXACTLY-ONCE
// ──────────────────────────────────────────────

func TestVerify_RepeatedCallsGrantOnce(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)

	first := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")
	require.Equal(t, service.OutcomeSuccess, first.Kind)
	require.False(t, first.AlreadyVerified)

	for i := 0; i < 5; i++ {
		outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")
		assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
		assert.True(t, outcome.AlreadyVerified)
		assert.Nil(t, outcome.Receipt, "receipt is only issued by the activating call")
		require.NotNil(t, outcome.Entitlement)
		assert.Equal(t, first.Entitlement.EndAt, outcome.Entitlement.EndAt)
	}

	assert.Len(t, f.store.Grants(), 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.psp.LookupCallCount), "settled attempts must not reach the provider")
}

func TestVerify_ConcurrentCallsGrantOnce(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		withLock bool
	}{
		{name: "with lock", withLock: true},
		{name: "state check only", withLock: false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newVerificationFixture(t, testVerificationConfig(), tc.withLock)
			f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
			f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)
			f.psp.LookupDelay = 20 * time.Millisecond

			const workers = 20
			outcomes := make([]*service.Outcome, workers)

			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					outcomes[i] = f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")
				}(i)
			}
			close(start)
			wg.Wait()

			activations := 0
			for _, o := range outcomes {
				require.Equal(t, service.OutcomeSuccess, o.Kind, "err: %v", o.Err)
				if !o.AlreadyVerified {
					activations++
				}
			}

			assert.Equal(t, 1, activations)
			assert.Len(t, f.store.Grants(), 1)
			assert.Equal(t, domain.PaymentStateCompleted, f.store.GetAttempt("attempt-1").State)
			if tc.withLock {
				assert.Equal(t, int32(1), atomic.LoadInt32(&f.psp.LookupCallCount))
			}
		})
	}
}

func TestVerify_CompletedNeverRegresses(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)

	require.Equal(t, service.OutcomeSuccess, f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1").Kind)

	// The provider now claims something else; the ledger keeps the confirmation.
	f.psp.SetLookup(StatusLookup(domain.RemoteStatusExpired, 49900), nil)
	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
	assert.True(t, outcome.AlreadyVerified)
	assert.Equal(t, domain.PaymentStateCompleted, f.store.GetAttempt("attempt-1").State)
	assert.Len(t, f.store.Grants(), 1)
}

// ──────────────────────────────────────────────
// 3. NOT CONFIRMED
// ──────────────────────────────────────────────

func TestVerify_PendingThenCompleted(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.QueueLookup(StatusLookup(domain.RemoteStatusPending, 49900), nil)
	f.psp.QueueLookup(CompletedLookup("TXN-1", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")
	assert.Equal(t, service.OutcomeNotConfirmed, outcome.Kind)
	assert.Equal(t, domain.RemoteStatusPending, outcome.NormalizedStatus)
	assert.False(t, outcome.Retryable())
	assert.Equal(t, domain.PaymentStatePending, f.store.GetAttempt("attempt-1").State)
	assert.Empty(t, f.store.Grants())

	outcome = f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")
	assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, domain.PaymentStateCompleted, f.store.GetAttempt("attempt-1").State)
	assert.Len(t, f.store.Grants(), 1)
}

func TestVerify_TerminalRemoteStatusFailsAttempt(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.RemoteStatus{
		domain.RemoteStatusUserCanceled,
		domain.RemoteStatusExpired,
		domain.RemoteStatusRefunded,
		domain.RemoteStatusUnknown,
	} {
		status := status
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			f := newVerificationFixture(t, testVerificationConfig(), true)
			f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
			f.psp.SetLookup(StatusLookup(status, 49900), nil)

			outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

			assert.Equal(t, service.OutcomeNotConfirmed, outcome.Kind)
			assert.Equal(t, status, outcome.NormalizedStatus)
			assert.NotEmpty(t, outcome.Message)

			stored := f.store.GetAttempt("attempt-1")
			assert.Equal(t, domain.PaymentStateFailed, stored.State)
			assert.NotEmpty(t, stored.FailureReason)
			assert.Empty(t, stored.ProviderTransactionID)
			assert.Empty(t, f.store.Grants())
		})
	}
}

func TestVerify_PendingAttemptFailsOnExpiry(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	attempt := AcceptedAttempt("attempt-1", "owner-1")
	attempt.State = domain.PaymentStatePending
	f.store.AddAttempt(attempt)
	f.psp.SetLookup(StatusLookup(domain.RemoteStatusExpired, 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeNotConfirmed, outcome.Kind)
	assert.Equal(t, domain.PaymentStateFailed, f.store.GetAttempt("attempt-1").State)
}

func TestVerify_FailedAttemptSettlesLate(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	attempt := AcceptedAttempt("attempt-1", "owner-1")
	attempt.State = domain.PaymentStateFailed
	attempt.FailureReason = "provider status: Expired"
	f.store.AddAttempt(attempt)
	f.psp.SetLookup(CompletedLookup("TXN-LATE", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	require.Equal(t, service.OutcomeSuccess, outcome.Kind, "err: %v", outcome.Err)
	assert.Equal(t, domain.PaymentStateCompleted, f.store.GetAttempt("attempt-1").State)
	assert.Len(t, f.store.Grants(), 1)
}

func TestVerify_FailedAttemptStaysFailed(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	attempt := AcceptedAttempt("attempt-1", "owner-1")
	attempt.State = domain.PaymentStateFailed
	f.store.AddAttempt(attempt)
	f.psp.SetLookup(StatusLookup(domain.RemoteStatusPending, 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeNotConfirmed, outcome.Kind)
	assert.Equal(t, domain.PaymentStateFailed, f.store.GetAttempt("attempt-1").State)
}

func TestVerify_RefundedAttemptIsNotReverified(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	attempt := AcceptedAttempt("attempt-1", "owner-1")
	attempt.State = domain.PaymentStateRefunded
	attempt.ProviderTransactionID = "TXN-1"
	f.store.AddAttempt(attempt)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeNotConfirmed, outcome.Kind)
	assert.Equal(t, domain.RemoteStatusRefunded, outcome.NormalizedStatus)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.psp.LookupCallCount))
}

func TestVerify_AttemptWithoutProviderReference(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	attempt := AcceptedAttempt("attempt-1", "owner-1")
	attempt.ProviderReference = ""
	f.store.AddAttempt(attempt)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeNotConfirmed, outcome.Kind)
	assert.Equal(t, domain.RemoteStatusInitiated, outcome.NormalizedStatus)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.psp.LookupCallCount))
	assert.Equal(t, domain.PaymentStateInitiated, f.store.GetAttempt("attempt-1").State)
}

// ──────────────────────────────────────────────
// 4. PROVIDER FAILURES
// ──────────────────────────────────────────────

func TestVerify_NetworkErrorLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(nil, NetworkError())

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeGatewayUnavailable, outcome.Kind)
	assert.True(t, outcome.Retryable())
	assert.True(t, errors.Is(outcome.Err, service.ErrGatewayUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.psp.LookupCallCount), "transient failures are retried up to the limit")
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.store.TransitionCallCount))
	assert.Equal(t, domain.PaymentStateInitiated, f.store.GetAttempt("attempt-1").State)
	assert.Empty(t, f.store.Grants())
	assert.False(t, f.locks.IsHeld("attempt-1"))
}

func TestVerify_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.QueueLookup(nil, NetworkError())
	f.psp.QueueLookup(nil, HTTPError(502))
	f.psp.QueueLookup(CompletedLookup("TXN-1", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.psp.LookupCallCount))
}

func TestVerify_DoesNotRetryRejectedLookup(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(nil, HTTPError(401))

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeGatewayUnavailable, outcome.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.psp.LookupCallCount))
	assert.Equal(t, domain.PaymentStateInitiated, f.store.GetAttempt("attempt-1").State)
}

func TestVerify_AmountMismatchIsNotActivated(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 100), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeInternalError, outcome.Kind)
	assert.True(t, errors.Is(outcome.Err, service.ErrAmountMismatch))
	assert.Empty(t, f.store.Grants())

	stored := f.store.GetAttempt("attempt-1")
	assert.Equal(t, domain.PaymentStateInitiated, stored.State)
	assert.JSONEq(t, `{"status":"Completed","transaction_id":"TXN-1"}`, string(stored.RawVerificationPayload))
	assert.Empty(t, stored.ProviderTransactionID)
}

func TestVerify_CompletedWithoutTransactionID(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeInternalError, outcome.Kind)
	assert.True(t, errors.Is(outcome.Err, service.ErrMissingTransactionID))
	assert.Empty(t, f.store.Grants())

	stored := f.store.GetAttempt("attempt-1")
	assert.Equal(t, domain.PaymentStateInitiated, stored.State)
	assert.NotEmpty(t, stored.RawVerificationPayload)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.store.RecordPayloadCallCount))
}

// ──────────────────────────────────────────────
// 5. LEDGER FAILURES
// ──────────────────────────────────────────────

func TestVerify_GrantFailureRollsBackCompletion(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)
	f.store.UpsertError = errors.New("connection reset")

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeInternalError, outcome.Kind)
	stored := f.store.GetAttempt("attempt-1")
	assert.Equal(t, domain.PaymentStateInitiated, stored.State, "completion must roll back with the grant")
	assert.Empty(t, stored.ProviderTransactionID)
	assert.Nil(t, f.store.GetEntitlement("owner-1"))

	// The next request activates normally.
	f.store.UpsertError = nil
	outcome = f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")
	assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
	assert.Len(t, f.store.Grants(), 1)
}

func TestVerify_CancelledRequestStillCommits(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The client disconnects right after the provider confirmed.
	f.psp.OnLookup = cancel

	outcome := f.svc.VerifyAndActivate(ctx, "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeSuccess, outcome.Kind, "err: %v", outcome.Err)
	assert.Equal(t, domain.PaymentStateCompleted, f.store.GetAttempt("attempt-1").State)
	assert.Len(t, f.store.Grants(), 1)
}

// ──────────────────────────────────────────────
// 6. OWNERSHIP & LOOKUP
// ──────────────────────────────────────────────

func TestVerify_OtherOwnersAttemptIsNotFound(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-2")

	assert.Equal(t, service.OutcomeNotFound, outcome.Kind)
	assert.Nil(t, outcome.Attempt)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.psp.LookupCallCount))
	assert.Equal(t, domain.PaymentStateInitiated, f.store.GetAttempt("attempt-1").State)
	assert.Nil(t, f.store.GetEntitlement("owner-2"))
}

func TestVerify_UnknownAttemptIsNotFound(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)

	assert.Equal(t, service.OutcomeNotFound, f.svc.VerifyAndActivate(context.Background(), "missing", "owner-1").Kind)
	assert.Equal(t, service.OutcomeNotFound, f.svc.VerifyAndActivate(context.Background(), "", "owner-1").Kind)
	assert.Equal(t, service.OutcomeNotFound, f.svc.VerifyAndActivate(context.Background(), "missing", "").Kind)
}

func TestVerify_ByProviderReference(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)

	assert.Equal(t, service.OutcomeNotFound,
		f.svc.VerifyByProviderReference(context.Background(), "pidx-attempt-1", "owner-2").Kind)

	outcome := f.svc.VerifyByProviderReference(context.Background(), "pidx-attempt-1", "owner-1")
	assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "attempt-1", outcome.Attempt.ExternalID)
}

// ──────────────────────────────────────────────
// 7. LOCKING
// ──────────────────────────────────────────────

func TestVerify_LockHeldElsewhereReportsInProgress(t *testing.T) {
	t.Parallel()

	cfg := testVerificationConfig()
	cfg.LockWait = 100 * time.Millisecond
	f := newVerificationFixture(t, cfg, true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)
	f.locks.Hold("attempt-1")

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeInProgress, outcome.Kind)
	assert.True(t, outcome.Retryable())
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.psp.LookupCallCount))
	assert.Equal(t, domain.PaymentStateInitiated, f.store.GetAttempt("attempt-1").State)
}

func TestVerify_LockStoreDownFallsBackToStateCheck(t *testing.T) {
	t.Parallel()

	f := newVerificationFixture(t, testVerificationConfig(), true)
	f.store.AddAttempt(AcceptedAttempt("attempt-1", "owner-1"))
	f.psp.SetLookup(CompletedLookup("TXN-1", 49900), nil)
	f.locks.AcquireError = errors.New("redis: connection refused")

	outcome := f.svc.VerifyAndActivate(context.Background(), "attempt-1", "owner-1")

	assert.Equal(t, service.OutcomeSuccess, outcome.Kind)
	assert.Len(t, f.store.Grants(), 1)
}
