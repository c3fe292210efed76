package models

import (
	"time"

	dbtypes "github.com/angelmondragon/launchkit-backend/pkg/db/types"
)

// Price mirrors a Stripe price. UnitAmount is in the currency's minor unit.
type Price struct {
	ID            string       `gorm:"column:id;primaryKey"`
	ProductID     string       `gorm:"column:product_id;not null;index"`
	Active        bool         `gorm:"column:active;not null"`
	Currency      string       `gorm:"column:currency;not null"`
	UnitAmount    *int64       `gorm:"column:unit_amount"`
	Type          string       `gorm:"column:type;not null"`
	Interval      *string      `gorm:"column:interval"`
	IntervalCount *int64       `gorm:"column:interval_count"`
	Nickname      *string      `gorm:"column:nickname"`
	Metadata      dbtypes.JSON `gorm:"column:metadata;type:jsonb"`
	LastEventAt   time.Time    `gorm:"column:last_event_at;not null"`
	CreatedAt     time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}
