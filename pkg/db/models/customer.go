package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer links an account to its Stripe customer. One row per account.
type Customer struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID           string    `gorm:"column:user_id;not null;unique"`
	StripeCustomerID string    `gorm:"column:stripe_customer_id;not null;unique"`
	Email            *string   `gorm:"column:email"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
