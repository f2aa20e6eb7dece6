package service

import (
	"context"
	"errors"
	"log"
	"time"

	"subscription/internal/domain"
	"subscription/internal/redis"
	"subscription/internal/repository"
)

// SubscriptionService grants entitlements and serves subscription reads.
type SubscriptionService struct {
	store      repository.Store
	cacheStore redis.CacheStoreInterface
	now        func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService.
// cacheStore may be nil, in which case every read goes to the database.
func NewSubscriptionService(store repository.Store, cacheStore redis.CacheStoreInterface) *SubscriptionService {
	return &SubscriptionService{
		store:      store,
		cacheStore: cacheStore,
		now:        time.Now,
	}
}

// Grant writes the entitlement earned by a completed attempt. It must be called
// with the transaction-scoped store that recorded the completion, so the two
// writes commit together. A renewal resets the window to start now.
func (s *SubscriptionService) Grant(ctx context.Context, tx repository.Store, attempt *domain.PaymentAttempt) (*domain.Entitlement, *domain.Plan, error) {
	if attempt.State != domain.PaymentStateCompleted {
		return nil, nil, ErrAttemptNotCompleted
	}

	plan, err := tx.Plans().GetByID(ctx, attempt.PlanID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	entitlement := &domain.Entitlement{
		OwnerID:         attempt.OwnerID,
		PlanID:          plan.ID,
		StartAt:         now,
		EndAt:           now.AddDate(0, 0, plan.DurationDays()),
		SourceAttemptID: attempt.ExternalID,
		UpdatedAt:       now,
	}

	if err := tx.Entitlements().Upsert(ctx, entitlement); err != nil {
		return nil, nil, err
	}

	return entitlement, plan, nil
}

// GetCurrent returns the owner's entitlement, active or expired.
func (s *SubscriptionService) GetCurrent(ctx context.Context, ownerID string) (*domain.Entitlement, error) {
	if ownerID == "" {
		return nil, ErrInvalidOwnerID
	}

	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetEntitlement(ctx, ownerID)
		if err != nil {
			log.Printf("[CACHE] entitlement read failed for owner=%s: %v", ownerID, err)
		} else if cached != nil {
			return &domain.Entitlement{
				OwnerID:         cached.OwnerID,
				PlanID:          cached.PlanID,
				StartAt:         cached.StartAt,
				EndAt:           cached.EndAt,
				SourceAttemptID: cached.SourceAttemptID,
				UpdatedAt:       time.UnixMilli(cached.Version),
			}, nil
		}
	}

	entitlement, err := s.store.Entitlements().GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// The fill is skipped if an activation already cached a newer row.
	if s.cacheStore != nil {
		_, _ = s.cacheStore.SetEntitlement(ctx, toCachedEntitlement(entitlement))
	}

	return entitlement, nil
}

// RefreshCache writes a freshly committed entitlement through to the cache.
// If the write fails the cached copy is dropped instead.
func (s *SubscriptionService) RefreshCache(ctx context.Context, entitlement *domain.Entitlement) {
	if s.cacheStore == nil {
		return
	}

	if _, err := s.cacheStore.SetEntitlement(ctx, toCachedEntitlement(entitlement)); err != nil {
		log.Printf("[CACHE] failed to refresh entitlement for owner=%s: %v", entitlement.OwnerID, err)
		if err := s.cacheStore.InvalidateEntitlement(ctx, entitlement.OwnerID); err != nil {
			log.Printf("[CACHE] failed to invalidate entitlement for owner=%s: %v", entitlement.OwnerID, err)
		}
	}
}

func toCachedEntitlement(e *domain.Entitlement) *redis.CachedEntitlement {
	return &redis.CachedEntitlement{
		OwnerID:         e.OwnerID,
		PlanID:          e.PlanID,
		StartAt:         e.StartAt,
		EndAt:           e.EndAt,
		SourceAttemptID: e.SourceAttemptID,
		Version:         e.UpdatedAt.UnixMilli(),
	}
}

// ListPlans returns the plans currently on sale.
func (s *SubscriptionService) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetActivePlans(ctx)
		if err == nil && cached != nil {
			plans := make([]*domain.Plan, 0, len(cached))
			for _, p := range cached {
				plans = append(plans, &domain.Plan{
					ID:              p.ID,
					Name:            p.Name,
					Slug:            p.Slug,
					Description:     p.Description,
					PriceMinorUnits: p.PriceMinorUnits,
					Currency:        p.Currency,
					Duration:        domain.PlanDuration(p.Duration),
					IsActive:        true,
				})
			}
			return plans, nil
		}
	}

	plans, err := s.store.Plans().ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		cached := make([]*redis.CachedPlan, 0, len(plans))
		for _, p := range plans {
			cached = append(cached, &redis.CachedPlan{
				ID:              p.ID,
				Name:            p.Name,
				Slug:            p.Slug,
				Description:     p.Description,
				PriceMinorUnits: p.PriceMinorUnits,
				Currency:        p.Currency,
				Duration:        string(p.Duration),
			})
		}
		_ = s.cacheStore.SetActivePlans(ctx, cached)
	}

	return plans, nil
}

// isNotFound reports whether err means the entity does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
