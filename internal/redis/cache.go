package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles read-through caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	EntitlementCacheTTL = 5 * time.Minute
	PlansCacheTTL       = 10 * time.Minute
)

// Key prefixes
const (
	entitlementCachePrefix = "cache:entitlement:"
	activePlansCacheKey    = "cache:plans:active"
)

// setIfNewerScript writes an entitlement unless the cached copy carries a
// higher version, so a reader holding a row from before a renewal cannot
// overwrite the renewed window.
var setIfNewerScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local ok, decoded = pcall(cjson.decode, current)
	if ok and decoded.version and tonumber(decoded.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// CachedEntitlement represents a cached entitlement.
// Version is the row's updated_at in Unix milliseconds.
type CachedEntitlement struct {
	OwnerID         string    `json:"owner_id"`
	PlanID          string    `json:"plan_id"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	SourceAttemptID string    `json:"source_attempt_id"`
	Version         int64     `json:"version"`
}

// CachedPlan represents a cached subscription plan.
type CachedPlan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	Description     string `json:"description"`
	PriceMinorUnits int64  `json:"price_minor_units"`
	Currency        string `json:"currency"`
	Duration        string `json:"duration"`
}

// GetEntitlement retrieves an owner's entitlement from cache.
// A miss returns nil without error.
func (s *CacheStore) GetEntitlement(ctx context.Context, ownerID string) (*CachedEntitlement, error) {
	var e CachedEntitlement
	found, err := s.getJSON(ctx, entitlementCachePrefix+ownerID, &e)
	if err != nil || !found {
		return nil, err
	}
	return &e, nil
}

// SetEntitlement stores an entitlement in cache unless a newer version is
// already there. It reports whether the value was written.
func (s *CacheStore) SetEntitlement(ctx context.Context, e *CachedEntitlement) (bool, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	written, err := setIfNewerScript.Run(ctx, s.client,
		[]string{entitlementCachePrefix + e.OwnerID},
		data, e.Version, EntitlementCacheTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// InvalidateEntitlement removes an owner's entitlement from cache.
func (s *CacheStore) InvalidateEntitlement(ctx context.Context, ownerID string) error {
	return s.client.Del(ctx, entitlementCachePrefix+ownerID).Err()
}

// GetActivePlans retrieves the plan catalogue from cache.
func (s *CacheStore) GetActivePlans(ctx context.Context) ([]*CachedPlan, error) {
	var plans []*CachedPlan
	found, err := s.getJSON(ctx, activePlansCacheKey, &plans)
	if err != nil || !found {
		return nil, err
	}
	return plans, nil
}

// SetActivePlans stores the plan catalogue in cache.
func (s *CacheStore) SetActivePlans(ctx context.Context, plans []*CachedPlan) error {
	return s.setJSON(ctx, activePlansCacheKey, plans, PlansCacheTTL)
}

func (s *CacheStore) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheStore) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}
