package enums

import "fmt"

// WebhookEventStatus tracks a stored provider event through processing.
type WebhookEventStatus string

const (
	WebhookEventPending   WebhookEventStatus = "pending"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventPending,
	WebhookEventProcessed,
	WebhookEventFailed,
}

func (s WebhookEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSettled is true once processing reached a final outcome.
func (s WebhookEventStatus) IsSettled() bool {
	return s == WebhookEventProcessed || s == WebhookEventFailed
}

// ParseWebhookEventStatus converts raw input into a WebhookEventStatus.
func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}

// WebhookEventResult records what processing did with an event.
type WebhookEventResult string

const (
	// WebhookResultApplied means local state changed.
	WebhookResultApplied WebhookEventResult = "applied"
	// WebhookResultNoop means the event was understood but nothing needed to change.
	WebhookResultNoop WebhookEventResult = "noop"
	// WebhookResultIgnored means no handler is registered for the event type.
	WebhookResultIgnored   WebhookEventResult = "ignored"
	WebhookResultMalformed WebhookEventResult = "malformed"
	WebhookResultError     WebhookEventResult = "error"
)

var validWebhookEventResults = []WebhookEventResult{
	WebhookResultApplied,
	WebhookResultNoop,
	WebhookResultIgnored,
	WebhookResultMalformed,
	WebhookResultError,
}

func (r WebhookEventResult) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r WebhookEventResult) IsValid() bool {
	for _, candidate := range validWebhookEventResults {
		if candidate == r {
			return true
		}
	}
	return false
}
