package stripewebhook

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	// SignatureHeader carries the timestamped HMAC Stripe computes over the raw body.
	SignatureHeader = "Stripe-Signature"

	defaultTolerance = webhook.DefaultTolerance
)

var errMissingSignature = errors.New("signature header missing")

// VerificationError means the delivery could not be authenticated. Nothing about its
// payload may be trusted, including the event id.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "webhook verification failed"
	}
	return "webhook verification failed: " + e.Err.Error()
}

func (e *VerificationError) Unwrap() error { return e.Err }

// IsVerificationError reports whether err came from a rejected signature or payload.
func IsVerificationError(err error) bool {
	var target *VerificationError
	return errors.As(err, &target)
}

// Verifier authenticates deliveries against the endpoint signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

// Verify checks the signature over the exact payload bytes and parses the event.
// It has no side effects.
func (v *Verifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, &VerificationError{Err: errMissingSignature}
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, &VerificationError{Err: err}
	}
	if event.ID == "" || event.Type == "" {
		return stripe.Event{}, &VerificationError{Err: errors.New("event id or type missing")}
	}
	return event, nil
}
