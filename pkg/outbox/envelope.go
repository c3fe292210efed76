package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies what caused the event. For billing changes this is the provider event.
type ActorRef struct {
	Source  string `json:"source"`
	EventID string `json:"eventId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
