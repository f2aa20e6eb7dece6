package redis

import (
	"context"
	"time"
)

// LockStoreInterface defines the interface for per-attempt distributed locking.
type LockStoreInterface interface {
	AcquireAttemptLock(ctx context.Context, externalID string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseAttemptLock(ctx context.Context, externalID, token string) error
}

// CacheStoreInterface defines the interface for the read-through caches.
type CacheStoreInterface interface {
	GetEntitlement(ctx context.Context, ownerID string) (*CachedEntitlement, error)
	SetEntitlement(ctx context.Context, e *CachedEntitlement) (bool, error)
	InvalidateEntitlement(ctx context.Context, ownerID string) error
	GetActivePlans(ctx context.Context) ([]*CachedPlan, error)
	SetActivePlans(ctx context.Context, plans []*CachedPlan) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface  = (*LockStore)(nil)
	_ CacheStoreInterface = (*CacheStore)(nil)
)
