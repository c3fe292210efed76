package models

import (
	"time"

	dbtypes "github.com/angelmondragon/launchkit-backend/pkg/db/types"
)

// Product mirrors a Stripe product. The primary key is the Stripe id.
type Product struct {
	ID          string       `gorm:"column:id;primaryKey"`
	Active      bool         `gorm:"column:active;not null"`
	Name        string       `gorm:"column:name;not null"`
	Description *string      `gorm:"column:description"`
	Metadata    dbtypes.JSON `gorm:"column:metadata;type:jsonb"`
	LastEventAt time.Time    `gorm:"column:last_event_at;not null"`
	CreatedAt   time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}
