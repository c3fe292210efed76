package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/launchkit-backend/pkg/db/types"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

// Subscription persists Stripe subscription state per account.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID               string                   `gorm:"column:user_id;not null;index"`
	CustomerID           *uuid.UUID               `gorm:"column:customer_id;type:uuid"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null"`
	PriceID              *string                  `gorm:"column:price_id"`
	Plan                 *string                  `gorm:"column:plan"`
	Quantity             *int64                   `gorm:"column:quantity"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null"`
	CancelAt             *time.Time               `gorm:"column:cancel_at"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	EndedAt              *time.Time               `gorm:"column:ended_at"`
	TrialStart           *time.Time               `gorm:"column:trial_start"`
	TrialEnd             *time.Time               `gorm:"column:trial_end"`
	Metadata             dbtypes.JSON             `gorm:"column:metadata;type:jsonb"`
	LastEventAt          time.Time                `gorm:"column:last_event_at;not null"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
