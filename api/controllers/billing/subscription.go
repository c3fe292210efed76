package billing

import (
	"context"
	"net/http"

	"github.com/angelmondragon/launchkit-backend/api/middleware"
	"github.com/angelmondragon/launchkit-backend/api/responses"
	billingsvc "github.com/angelmondragon/launchkit-backend/internal/billing"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
)

// SubscriptionReader loads the caller's current subscription summary.
type SubscriptionReader interface {
	CurrentSubscription(ctx context.Context, userID string) (*billingsvc.SubscriptionSummary, error)
}

// EntitlementChecker answers the cached has-active-subscription question.
type EntitlementChecker interface {
	HasActiveSubscription(ctx context.Context, userID string) (bool, error)
}

type subscriptionResponse struct {
	HasActiveSubscription bool                            `json:"has_active_subscription"`
	Subscription          *billingsvc.SubscriptionSummary `json:"subscription"`
}

// CurrentSubscription returns the authenticated user's subscription and entitlement flag.
// A user who never subscribed gets a null subscription, not a 404.
func CurrentSubscription(subs SubscriptionReader, entitlements EntitlementChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if subs == nil || entitlements == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		summary, err := subs.CurrentSubscription(ctx, userID)
		if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entitled, err := entitlements.HasActiveSubscription(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponse{
			HasActiveSubscription: entitled,
			Subscription:          summary,
		})
	}
}
