package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still held by the caller's token,
// so a holder whose TTL expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func attemptLockKey(externalID string) string {
	return fmt.Sprintf("lock:payment_attempt:%s", externalID)
}

// AcquireAttemptLock attempts to take the verification lock for a payment attempt.
// On success it returns the token that must be presented to release it.
func (s *LockStore) AcquireAttemptLock(ctx context.Context, externalID string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, attemptLockKey(externalID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// ReleaseAttemptLock releases the lock if token still owns it.
func (s *LockStore) ReleaseAttemptLock(ctx context.Context, externalID, token string) error {
	return releaseScript.Run(ctx, s.client, []string{attemptLockKey(externalID)}, token).Err()
}
