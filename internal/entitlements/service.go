// Package entitlements answers whether an account may use paid features.
package entitlements

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/redis"
)

const (
	entitledValue    = "1"
	notEntitledValue = "0"
	// settlingValue blocks cache fills for settleWindow after a subscription change.
	settlingValue = "-"
	defaultTTL    = 5 * time.Minute
	settleWindow  = 5 * time.Second
)

// SubscriptionLookup loads the account's current subscription.
type SubscriptionLookup interface {
	FindCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// Service reads entitlement through a Redis cache.
type Service struct {
	cache redis.Cache
	subs  SubscriptionLookup
	ttl   time.Duration
	logg  *logger.Logger
}

func NewService(cache redis.Cache, subs SubscriptionLookup, ttl time.Duration, logg *logger.Logger) (*Service, error) {
	if subs == nil {
		return nil, errors.New("subscription lookup required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{cache: cache, subs: subs, ttl: ttl, logg: logg}, nil
}

// HasActiveSubscription reports whether the account holds an active or trialing subscription.
// Cache failures fall through to the database. Fills only land on an empty key, so a read that
// raced a subscription change cannot overwrite the settling marker; a read slower than
// settleWindow can still cache the old flag until the TTL expires.
func (s *Service) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.cache.EntitlementKey(userID))
		switch {
		case err == nil && (cached == entitledValue || cached == notEntitledValue):
			return cached == entitledValue, nil
		case err != nil && !errors.Is(err, goredis.Nil):
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "entitlements.cache_read_failed")
		}
	}

	sub, err := s.subs.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	entitled := sub != nil && sub.Status.IsEntitled()

	if s.cache != nil {
		value := notEntitledValue
		if entitled {
			value = entitledValue
		}
		if _, err := s.cache.SetNX(ctx, s.cache.EntitlementKey(userID), value, s.ttl); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "entitlements.cache_write_failed")
		}
	}
	return entitled, nil
}

// Invalidate replaces the cached flag with a short-lived settling marker. Reads during the
// window go to the database and leave the cache alone.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil || strings.TrimSpace(userID) == "" {
		return nil
	}
	return s.cache.Set(ctx, s.cache.EntitlementKey(userID), settlingValue, settleWindow)
}
