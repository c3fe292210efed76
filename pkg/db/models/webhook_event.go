package models

import (
	"time"

	dbtypes "github.com/angelmondragon/launchkit-backend/pkg/db/types"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

// WebhookEvent is the durable record of one provider event, keyed by the provider's event id.
type WebhookEvent struct {
	ID               string                    `gorm:"column:id;primaryKey"`
	Type             string                    `gorm:"column:type;not null"`
	APIVersion       *string                   `gorm:"column:api_version"`
	Livemode         bool                      `gorm:"column:livemode;not null"`
	Created          time.Time                 `gorm:"column:created;not null"`
	Payload          dbtypes.JSON              `gorm:"column:payload;type:jsonb;not null"`
	ProcessingStatus enums.WebhookEventStatus  `gorm:"column:processing_status;not null"`
	ProcessingResult *enums.WebhookEventResult `gorm:"column:processing_result"`
	Attempts         int                       `gorm:"column:attempts;not null"`
	LastError        *string                   `gorm:"column:last_error"`
	ClaimedAt        *time.Time                `gorm:"column:claimed_at"`
	ProcessedAt      *time.Time                `gorm:"column:processed_at"`
	ReceivedAt       time.Time                 `gorm:"column:received_at;not null"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
