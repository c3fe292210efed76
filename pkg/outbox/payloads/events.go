package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

// SubscriptionChangedEvent is emitted whenever reconciliation changes a subscription row.
type SubscriptionChangedEvent struct {
	SubscriptionID       uuid.UUID                 `json:"subscription_id"`
	StripeSubscriptionID string                    `json:"stripe_subscription_id"`
	UserID               string                    `json:"user_id"`
	Status               enums.SubscriptionStatus  `json:"status"`
	PreviousStatus       *enums.SubscriptionStatus `json:"previous_status,omitempty"`
	PriceID              *string                   `json:"price_id,omitempty"`
	CurrentPeriodEnd     *time.Time                `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool                      `json:"cancel_at_period_end"`
	Entitled             bool                      `json:"entitled"`
	SourceEventType      string                    `json:"source_event_type"`
}

// CustomerLinkedEvent is emitted the first time an account is linked to a Stripe customer.
type CustomerLinkedEvent struct {
	CustomerID       uuid.UUID `json:"customer_id"`
	UserID           string    `json:"user_id"`
	StripeCustomerID string    `json:"stripe_customer_id"`
}
