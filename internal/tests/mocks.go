package tests

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"subscription/internal/domain"
	"subscription/internal/gateway"
	"subscription/internal/redis"
	"subscription/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK STORE
// ──────────────────────────────────────────────

// MockStore is an in-memory implementation of repository.Store.
// Transactions are serialized and rolled back by restoring a snapshot.
type MockStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	attempts     map[string]*domain.PaymentAttempt
	entitlements map[string]*domain.Entitlement
	plans        map[string]*domain.Plan

	// Every committed entitlement write, in order.
	grants []domain.Entitlement

	// Counters for verification
	TransitionCallCount    int32
	UpsertCallCount        int32
	TxCount                int32
	RecordPayloadCallCount int32

	// Error injection
	CreateError               error
	SetProviderReferenceError error
	TransitionError           error
	UpsertError               error
}

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		attempts:     make(map[string]*domain.PaymentAttempt),
		entitlements: make(map[string]*domain.Entitlement),
		plans:        make(map[string]*domain.Plan),
	}
}

func (m *MockStore) Attempts() repository.PaymentAttemptRepository {
	return &mockAttemptRepository{s: m}
}

func (m *MockStore) Entitlements() repository.EntitlementRepository {
	return &mockEntitlementRepository{s: m}
}

func (m *MockStore) Plans() repository.PlanRepository {
	return &mockPlanRepository{s: m}
}

func (m *MockStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	atomic.AddInt32(&m.TxCount, 1)

	snap := m.snapshot()
	if err := fn(mockTxStore{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// mockTxStore is the transaction-scoped view handed to WithinTx callbacks.
type mockTxStore struct {
	*MockStore
}

func (t mockTxStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

type storeSnapshot struct {
	attempts     map[string]domain.PaymentAttempt
	entitlements map[string]domain.Entitlement
	grants       int
}

func (m *MockStore) snapshot() storeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := storeSnapshot{
		attempts:     make(map[string]domain.PaymentAttempt, len(m.attempts)),
		entitlements: make(map[string]domain.Entitlement, len(m.entitlements)),
		grants:       len(m.grants),
	}
	for k, v := range m.attempts {
		snap.attempts[k] = *v
	}
	for k, v := range m.entitlements {
		snap.entitlements[k] = *v
	}
	return snap
}

func (m *MockStore) restore(snap storeSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = make(map[string]*domain.PaymentAttempt, len(snap.attempts))
	for k, v := range snap.attempts {
		a := v
		m.attempts[k] = &a
	}
	m.entitlements = make(map[string]*domain.Entitlement, len(snap.entitlements))
	for k, v := range snap.entitlements {
		e := v
		m.entitlements[k] = &e
	}
	m.grants = m.grants[:snap.grants]
}

// AddAttempt adds a payment attempt to the mock store.
func (m *MockStore) AddAttempt(attempt *domain.PaymentAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := *attempt
	m.attempts[a.ExternalID] = &a
}

// AddPlan adds a plan to the mock store.
func (m *MockStore) AddPlan(plan *domain.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *plan
	m.plans[p.ID] = &p
}

// AddEntitlement adds an entitlement to the mock store without counting it as a grant.
func (m *MockStore) AddEntitlement(entitlement *domain.Entitlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entitlement
	m.entitlements[e.OwnerID] = &e
}

// GetAttempt returns a copy of the stored attempt for test assertions.
func (m *MockStore) GetAttempt(externalID string) *domain.PaymentAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[externalID]
	if !ok {
		return nil
	}
	copy := *a
	return &copy
}

// GetEntitlement returns a copy of the owner's entitlement for test assertions.
func (m *MockStore) GetEntitlement(ownerID string) *domain.Entitlement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entitlements[ownerID]
	if !ok {
		return nil
	}
	copy := *e
	return &copy
}

// Grants returns every committed entitlement write.
func (m *MockStore) Grants() []domain.Entitlement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Entitlement(nil), m.grants...)
}

// CountAttempts returns the number of stored attempts.
func (m *MockStore) CountAttempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts)
}

// ──────────────────────────────────────────────
// MOCK PAYMENT ATTEMPT REPOSITORY
// ──────────────────────────────────────────────

type mockAttemptRepository struct {
	s *MockStore
}

func (r *mockAttemptRepository) Create(ctx context.Context, attempt *domain.PaymentAttempt) error {
	if r.s.CreateError != nil {
		return r.s.CreateError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.attempts[attempt.ExternalID]; exists {
		return repository.ErrDuplicateExternalID
	}
	a := *attempt
	r.s.attempts[a.ExternalID] = &a
	return nil
}

func (r *mockAttemptRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.PaymentAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.attempts[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (r *mockAttemptRepository) GetByExternalIDForOwner(ctx context.Context, externalID, ownerID string) (*domain.PaymentAttempt, error) {
	a, err := r.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (r *mockAttemptRepository) GetByProviderReferenceForOwner(ctx context.Context, providerReference, ownerID string) (*domain.PaymentAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.attempts {
		if a.ProviderReference == providerReference && a.OwnerID == ownerID {
			copy := *a
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *mockAttemptRepository) SetProviderReference(ctx context.Context, externalID, providerReference, paymentURL string, raw []byte) error {
	if r.s.SetProviderReferenceError != nil {
		return r.s.SetProviderReferenceError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, a := range r.s.attempts {
		if id != externalID && a.ProviderReference == providerReference {
			return repository.ErrDuplicateProviderReference
		}
	}
	a, ok := r.s.attempts[externalID]
	if !ok {
		return repository.ErrNotFound
	}
	a.ProviderReference = providerReference
	a.PaymentURL = paymentURL
	a.RawVerificationPayload = raw
	return nil
}

func (r *mockAttemptRepository) ListByOwner(ctx context.Context, ownerID string, filter repository.AttemptFilter) ([]*domain.PaymentAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []*domain.PaymentAttempt
	for _, a := range r.s.attempts {
		if a.OwnerID != ownerID || !stateIn(a.State, filter.States) {
			continue
		}
		if !filter.CreatedAfter.IsZero() && a.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !a.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		copy := *a
		matched = append(matched, &copy)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ExternalID > matched[j].ExternalID
	})

	if filter.Offset >= len(matched) {
		return []*domain.PaymentAttempt{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func stateIn(state domain.PaymentState, states []domain.PaymentState) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

func (r *mockAttemptRepository) RecordVerificationPayload(ctx context.Context, externalID string, state domain.PaymentState, raw []byte) error {
	atomic.AddInt32(&r.s.RecordPayloadCallCount, 1)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[externalID]
	if !ok {
		return repository.ErrNotFound
	}
	if a.State != state {
		return repository.ErrStateConflict
	}
	if raw != nil {
		a.RawVerificationPayload = raw
	}
	a.UpdatedAt = time.Now()
	return nil
}

// Transition applies the change only if the stored state still equals t.From.
func (r *mockAttemptRepository) Transition(ctx context.Context, t domain.Transition) error {
	atomic.AddInt32(&r.s.TransitionCallCount, 1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.s.TransitionError != nil {
		return r.s.TransitionError
	}
	if err := domain.ValidateTransition(t.From, t.To); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[t.ExternalID]
	if !ok {
		return repository.ErrNotFound
	}
	if a.State != t.From {
		return repository.ErrStateConflict
	}
	t.Apply(a)
	return nil
}

// ──────────────────────────────────────────────
// MOCK ENTITLEMENT REPOSITORY
// ──────────────────────────────────────────────

type mockEntitlementRepository struct {
	s *MockStore
}

func (r *mockEntitlementRepository) GetByOwnerID(ctx context.Context, ownerID string) (*domain.Entitlement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.entitlements[ownerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *e
	return &copy, nil
}

func (r *mockEntitlementRepository) Upsert(ctx context.Context, entitlement *domain.Entitlement) error {
	atomic.AddInt32(&r.s.UpsertCallCount, 1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.s.UpsertError != nil {
		return r.s.UpsertError
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e := *entitlement
	if existing, ok := r.s.entitlements[e.OwnerID]; ok {
		e.CreatedAt = existing.CreatedAt
	} else {
		e.CreatedAt = e.UpdatedAt
	}
	r.s.entitlements[e.OwnerID] = &e
	r.s.grants = append(r.s.grants, e)
	entitlement.CreatedAt = e.CreatedAt
	return nil
}

// ──────────────────────────────────────────────
// MOCK PLAN REPOSITORY
// ──────────────────────────────────────────────

type mockPlanRepository struct {
	s *MockStore
}

func (r *mockPlanRepository) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (r *mockPlanRepository) ListActive(ctx context.Context) ([]*domain.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*domain.Plan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		if !p.IsActive {
			continue
		}
		copy := *p
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PriceMinorUnits < result[j].PriceMinorUnits
	})
	return result, nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string // externalID -> token
	next  int

	// Counters for verification
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
	}
}

func (m *MockLockStore) AcquireAttemptLock(ctx context.Context, externalID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[externalID]; held {
		return "", false, nil
	}
	m.next++
	token := fmt.Sprintf("token-%d", m.next)
	m.locks[externalID] = token
	return token, true, nil
}

func (m *MockLockStore) ReleaseAttemptLock(ctx context.Context, externalID, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[externalID] == token {
		delete(m.locks, externalID)
	}
	return nil
}

// Hold takes the lock on behalf of another process.
func (m *MockLockStore) Hold(externalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[externalID] = "held-elsewhere"
}

// IsHeld reports whether the attempt is currently locked.
func (m *MockLockStore) IsHeld(externalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[externalID]
	return held
}

// ──────────────────────────────────────────────
// MOCK CACHE STORE
// ──────────────────────────────────────────────

// MockCacheStore is a mock implementation of CacheStoreInterface.
type MockCacheStore struct {
	mu           sync.RWMutex
	entitlements map[string]*redis.CachedEntitlement
	plans        []*redis.CachedPlan

	// Counters for verification
	GetEntitlementCallCount int32
	SetEntitlementCallCount int32
	InvalidateCallCount     int32
	SetPlansCallCount       int32

	// Error injection
	GetError error
	SetError error
}

// NewMockCacheStore creates a new mock cache store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{
		entitlements: make(map[string]*redis.CachedEntitlement),
	}
}

func (m *MockCacheStore) GetEntitlement(ctx context.Context, ownerID string) (*redis.CachedEntitlement, error) {
	atomic.AddInt32(&m.GetEntitlementCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entitlements[ownerID]
	if !ok {
		return nil, nil
	}
	copy := *e
	return &copy, nil
}

func (m *MockCacheStore) SetEntitlement(ctx context.Context, e *redis.CachedEntitlement) (bool, error) {
	atomic.AddInt32(&m.SetEntitlementCallCount, 1)
	if m.SetError != nil {
		return false, m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entitlements[e.OwnerID]; ok && current.Version > e.Version {
		return false, nil
	}
	copy := *e
	m.entitlements[e.OwnerID] = &copy
	return true, nil
}

func (m *MockCacheStore) InvalidateEntitlement(ctx context.Context, ownerID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entitlements, ownerID)
	return nil
}

func (m *MockCacheStore) GetActivePlans(ctx context.Context) ([]*redis.CachedPlan, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plans, nil
}

func (m *MockCacheStore) SetActivePlans(ctx context.Context, plans []*redis.CachedPlan) error {
	atomic.AddInt32(&m.SetPlansCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = plans
	return nil
}

// CachedEntitlement returns the cached entitlement of an owner, or nil.
func (m *MockCacheStore) CachedEntitlement(ownerID string) *redis.CachedEntitlement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entitlements[ownerID]
	if !ok {
		return nil
	}
	copy := *e
	return &copy
}

// HasEntitlement reports whether the owner's entitlement is cached.
func (m *MockCacheStore) HasEntitlement(ownerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entitlements[ownerID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK PSP
// ──────────────────────────────────────────────

type lookupStep struct {
	result *gateway.LookupResult
	err    error
}

// MockPSP is a scripted payment provider.
// Lookup answers follow the queued script; the last entry repeats.
type MockPSP struct {
	mu          sync.Mutex
	lookups     []lookupStep
	lookupIndex int

	LastInitiateRequest gateway.InitiateRequest
	LastRefundRequest   gateway.RefundRequest

	// Counters for verification
	InitiateCallCount int32
	LookupCallCount   int32
	RefundCallCount   int32

	// Behaviour
	LookupDelay    time.Duration
	OnLookup       func()
	InitiateResult *gateway.InitiateResult
	InitiateError  error
	RefundError    error
}

// NewMockPSP creates a new mock PSP.
func NewMockPSP() *MockPSP {
	return &MockPSP{}
}

// QueueLookup appends an answer to the lookup script.
func (m *MockPSP) QueueLookup(result *gateway.LookupResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, lookupStep{result: result, err: err})
}

// SetLookup replaces the lookup script with a single repeating answer.
func (m *MockPSP) SetLookup(result *gateway.LookupResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = []lookupStep{{result: result, err: err}}
	m.lookupIndex = 0
}

func (m *MockPSP) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	atomic.AddInt32(&m.InitiateCallCount, 1)
	m.mu.Lock()
	m.LastInitiateRequest = req
	m.mu.Unlock()

	if m.InitiateError != nil {
		return nil, m.InitiateError
	}
	if m.InitiateResult != nil {
		result := *m.InitiateResult
		return &result, nil
	}

	pidx := "pidx-" + req.PurchaseOrderID
	return &gateway.InitiateResult{
		ProviderReference: pidx,
		PaymentURL:        "https://test-pay.khalti.com/?pidx=" + pidx,
		Raw:               []byte(`{"pidx":"` + pidx + `"}`),
	}, nil
}

func (m *MockPSP) Lookup(ctx context.Context, providerReference string) (*gateway.LookupResult, error) {
	atomic.AddInt32(&m.LookupCallCount, 1)
	if m.OnLookup != nil {
		m.OnLookup()
	}

	if m.LookupDelay > 0 {
		select {
		case <-time.After(m.LookupDelay):
		case <-ctx.Done():
			return nil, &gateway.Error{Kind: gateway.ErrNetwork, Op: "lookup", Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	if len(m.lookups) == 0 {
		m.mu.Unlock()
		return nil, &gateway.Error{Kind: gateway.ErrProtocol, Op: "lookup", Err: errors.New("no scripted answer")}
	}
	step := m.lookups[m.lookupIndex]
	if m.lookupIndex < len(m.lookups)-1 {
		m.lookupIndex++
	}
	m.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	result := *step.result
	return &result, nil
}

func (m *MockPSP) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	atomic.AddInt32(&m.RefundCallCount, 1)
	m.mu.Lock()
	m.LastRefundRequest = req
	m.mu.Unlock()

	if m.RefundError != nil {
		return nil, m.RefundError
	}
	return &gateway.RefundResult{
		RefundID: "refund-" + req.ProviderReference,
		Raw:      []byte(`{"detail":"refund accepted"}`),
	}, nil
}

// ──────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────

// CompletedLookup is a settled provider answer.
func CompletedLookup(txnID string, amount int64) *gateway.LookupResult {
	return &gateway.LookupResult{
		Status:                domain.RemoteStatusCompleted,
		RawStatus:             "Completed",
		ProviderTransactionID: txnID,
		TotalAmountMinorUnits: amount,
		Raw:                   []byte(`{"status":"Completed","transaction_id":"` + txnID + `"}`),
	}
}

// StatusLookup is an unsettled provider answer.
func StatusLookup(status domain.RemoteStatus, amount int64) *gateway.LookupResult {
	return &gateway.LookupResult{
		Status:                status,
		RawStatus:             string(status),
		TotalAmountMinorUnits: amount,
		Raw:                   []byte(`{"status":"` + string(status) + `"}`),
	}
}

// NetworkError simulates an unreachable provider.
func NetworkError() error {
	return &gateway.Error{Kind: gateway.ErrNetwork, Op: "lookup", Err: context.DeadlineExceeded}
}

// HTTPError simulates a provider answering with a non-2xx status.
func HTTPError(statusCode int) error {
	return &gateway.Error{
		Kind:       gateway.ErrProtocol,
		Op:         "lookup",
		StatusCode: statusCode,
		Err:        errors.New(http.StatusText(statusCode)),
	}
}

// TestPlan is the monthly plan used across tests.
func TestPlan() *domain.Plan {
	return &domain.Plan{
		ID:              "plan-monthly",
		Name:            "Monthly",
		Slug:            "monthly",
		PriceMinorUnits: 49900,
		Currency:        domain.DefaultCurrency,
		Duration:        domain.PlanDurationMonthly,
		IsActive:        true,
	}
}

// AcceptedAttempt is an INITIATED attempt the provider accepted with a pidx.
func AcceptedAttempt(externalID, ownerID string) *domain.PaymentAttempt {
	now := time.Now()
	return &domain.PaymentAttempt{
		ExternalID:        externalID,
		ProviderReference: "pidx-" + externalID,
		AmountMinorUnits:  49900,
		Currency:          domain.DefaultCurrency,
		State:             domain.PaymentStateInitiated,
		OwnerID:           ownerID,
		PlanID:            "plan-monthly",
		InitiatedAt:       now,
		CreatedAt:         now,
	}
}
