package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WebhookAck is the body returned to webhook senders. Received is always true
// once the delivery has been durably recorded.
type WebhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}
