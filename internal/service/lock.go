package service

import (
	"context"
	"log"
	"time"

	"subscription/internal/redis"
)

const (
	defaultAttemptLockTTL  = 30 * time.Second
	defaultAttemptLockWait = 10 * time.Second
	attemptLockPoll        = 50 * time.Millisecond
)

// attemptLocker serializes work on a single payment attempt across processes.
// The database compare-and-set remains the final guard; if Redis is unavailable
// the locker steps aside and lets the compare-and-set decide.
type attemptLocker struct {
	store redis.LockStoreInterface
	ttl   time.Duration
	wait  time.Duration
}

func newAttemptLocker(store redis.LockStoreInterface, ttl, wait time.Duration) *attemptLocker {
	if ttl <= 0 {
		ttl = defaultAttemptLockTTL
	}
	if wait < 0 {
		wait = defaultAttemptLockWait
	}
	return &attemptLocker{store: store, ttl: ttl, wait: wait}
}

// lock blocks until the attempt is locked, wait elapses (ErrAttemptBusy) or ctx ends.
// The returned release func is always safe to call.
func (l *attemptLocker) lock(ctx context.Context, externalID string) (func(), error) {
	noop := func() {}
	if l == nil || l.store == nil {
		return noop, nil
	}

	deadline := time.Now().Add(l.wait)
	for {
		token, acquired, err := l.store.AcquireAttemptLock(ctx, externalID, l.ttl)
		if err != nil {
			log.Printf("[VERIFY] lock unavailable for attempt=%s, relying on state check: %v", externalID, err)
			return noop, nil
		}

		if acquired {
			return func() {
				if err := l.store.ReleaseAttemptLock(context.WithoutCancel(ctx), externalID, token); err != nil {
					log.Printf("[VERIFY] failed to release lock for attempt=%s: %v", externalID, err)
				}
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrAttemptBusy
		}

		if err := sleepContext(ctx, attemptLockPoll); err != nil {
			return nil, err
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
