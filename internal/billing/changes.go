package billing

import (
	"time"

	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

// Source identifies the provider event a change was derived from.
type Source struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (s Source) origin() Source { return s }

// Change is a reconciliation step decided from one event before anything is written.
// The set of implementations is closed: CheckoutCompleted, SubscriptionSync,
// SubscriptionCanceled, ProductSync, PriceSync and Skip.
type Change interface {
	origin() Source
}

// CheckoutCompleted creates the customer link and the subscription row when absent.
type CheckoutCompleted struct {
	Source
	UserID               string                   `json:"userId" validate:"required"`
	StripeCustomerID     string                   `json:"customer" validate:"required"`
	StripeSubscriptionID string                   `json:"subscription" validate:"required"`
	Status               enums.SubscriptionStatus `json:"status" validate:"required"`
	Email                *string                  `json:"email"`
	PriceID              *string                  `json:"priceId"`
	Plan                 *string                  `json:"plan"`
	Metadata             map[string]string        `json:"metadata"`
}

// SubscriptionState is the provider's view of a subscription, normalized for storage.
type SubscriptionState struct {
	StripeSubscriptionID string                   `json:"id" validate:"required"`
	StripeCustomerID     string                   `json:"customer" validate:"required"`
	UserID               string                   `json:"userId" validate:"required"`
	Email                *string                  `json:"email"`
	Status               enums.SubscriptionStatus `json:"status" validate:"required"`
	PriceID              *string                  `json:"priceId"`
	Plan                 *string                  `json:"plan"`
	Quantity             *int64                   `json:"quantity" validate:"omitempty,gte=0"`
	CurrentPeriodStart   *time.Time               `json:"currentPeriodStart"`
	CurrentPeriodEnd     *time.Time               `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool                     `json:"cancelAtPeriodEnd"`
	CancelAt             *time.Time               `json:"cancelAt"`
	CanceledAt           *time.Time               `json:"canceledAt"`
	EndedAt              *time.Time               `json:"endedAt"`
	TrialStart           *time.Time               `json:"trialStart"`
	TrialEnd             *time.Time               `json:"trialEnd"`
	Metadata             map[string]string        `json:"metadata"`
}

// SubscriptionSync overwrites the row with the provider state, creating it when absent.
type SubscriptionSync struct {
	Source
	State SubscriptionState `json:"subscription"`
}

// SubscriptionCanceled freezes an existing row at canceled. Absent rows are left alone.
type SubscriptionCanceled struct {
	Source
	StripeSubscriptionID string     `json:"id" validate:"required"`
	CanceledAt           *time.Time `json:"canceledAt"`
	EndedAt              *time.Time `json:"endedAt"`
}

// ProductSync mirrors a catalog product.
type ProductSync struct {
	Source
	ID          string            `json:"id" validate:"required"`
	Active      bool              `json:"active"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// PriceSync mirrors a catalog price.
type PriceSync struct {
	Source
	ID            string            `json:"id" validate:"required"`
	ProductID     string            `json:"product" validate:"required"`
	Active        bool              `json:"active"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	UnitAmount    *int64            `json:"unitAmount" validate:"omitempty,gte=0"`
	Type          string            `json:"type" validate:"required"`
	Interval      *string           `json:"interval"`
	IntervalCount *int64            `json:"intervalCount"`
	Nickname      *string           `json:"nickname"`
	Metadata      map[string]string `json:"metadata"`
}

// Skip records an event that needs no write.
type Skip struct {
	Source
	Result enums.WebhookEventResult
	Reason string
}

// Outcome is what applying a change did.
type Outcome struct {
	Result enums.WebhookEventResult
	// UserID is set when the change may have altered the account's entitlement.
	UserID string
}
