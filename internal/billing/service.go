package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/money"
)

// SubscriptionSummary is the account-facing view of the current subscription.
type SubscriptionSummary struct {
	SubscriptionID     string                   `json:"subscription_id"`
	Status             enums.SubscriptionStatus `json:"status"`
	Entitled           bool                     `json:"entitled"`
	Plan               *string                  `json:"plan,omitempty"`
	PriceID            *string                  `json:"price_id,omitempty"`
	ProductName        *string                  `json:"product_name,omitempty"`
	Amount             *string                  `json:"amount,omitempty"`
	AmountMinor        *int64                   `json:"amount_minor,omitempty"`
	Currency           *string                  `json:"currency,omitempty"`
	Interval           *string                  `json:"interval,omitempty"`
	Quantity           *int64                   `json:"quantity,omitempty"`
	CurrentPeriodStart *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CanceledAt         *time.Time               `json:"canceled_at,omitempty"`
	TrialEnd           *time.Time               `json:"trial_end,omitempty"`
}

// Service answers read-side billing questions for an account.
type Service struct {
	repo Repository
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	return &Service{repo: repo}, nil
}

// CurrentSubscription returns the account's current subscription, joined with its catalog price
// when one has been synced. It returns a not found error when the account never subscribed.
func (s *Service) CurrentSubscription(ctx context.Context, userID string) (*SubscriptionSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}

	summary := summarize(sub)
	if sub.PriceID == nil {
		return summary, nil
	}
	price, err := s.repo.FindPrice(ctx, *sub.PriceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load price")
	}
	if price == nil {
		return summary, nil
	}
	applyPrice(summary, price)

	product, err := s.repo.FindProduct(ctx, price.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	if product != nil {
		name := product.Name
		summary.ProductName = &name
	}
	return summary, nil
}

func summarize(sub *models.Subscription) *SubscriptionSummary {
	return &SubscriptionSummary{
		SubscriptionID:     sub.StripeSubscriptionID,
		Status:             sub.Status,
		Entitled:           sub.Status.IsEntitled(),
		Plan:               sub.Plan,
		PriceID:            sub.PriceID,
		Quantity:           sub.Quantity,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
		TrialEnd:           sub.TrialEnd,
	}
}

func applyPrice(summary *SubscriptionSummary, price *models.Price) {
	currency := strings.ToUpper(price.Currency)
	summary.Currency = &currency
	summary.Interval = price.Interval
	if summary.Plan == nil {
		summary.Plan = price.Nickname
	}
	if price.UnitAmount != nil {
		minor := *price.UnitAmount
		display := money.FormatAmountForDisplay(minor, price.Currency)
		summary.AmountMinor = &minor
		summary.Amount = &display
	}
}
