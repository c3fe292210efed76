package stripewebhook

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/launchkit-backend/internal/billing"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

// EventKind is the closed set of provider events the service reconciles.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaid
	KindInvoicePaymentFailed
	KindProduct
	KindPrice
)

var kindNames = map[EventKind]string{
	KindUnknown:              "unknown",
	KindCheckoutCompleted:    "checkout_completed",
	KindSubscriptionCreated:  "subscription_created",
	KindSubscriptionUpdated:  "subscription_updated",
	KindSubscriptionDeleted:  "subscription_deleted",
	KindInvoicePaid:          "invoice_paid",
	KindInvoicePaymentFailed: "invoice_payment_failed",
	KindProduct:              "product",
	KindPrice:                "price",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// KindOf maps a provider event type onto its kind.
func KindOf(eventType stripe.EventType) EventKind {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted:
		return KindCheckoutCompleted
	case stripe.EventTypeCustomerSubscriptionCreated:
		return KindSubscriptionCreated
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return KindSubscriptionUpdated
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return KindSubscriptionDeleted
	case stripe.EventTypeInvoicePaid:
		return KindInvoicePaid
	case stripe.EventTypeInvoicePaymentFailed:
		return KindInvoicePaymentFailed
	case stripe.EventTypeProductCreated, stripe.EventTypeProductUpdated, stripe.EventTypeProductDeleted:
		return KindProduct
	case stripe.EventTypePriceCreated, stripe.EventTypePriceUpdated, stripe.EventTypePriceDeleted:
		return KindPrice
	default:
		return KindUnknown
	}
}

// Dispatcher routes an event to the planner registered for its kind. The registry is
// built once and never modified.
type Dispatcher struct {
	handlers map[EventKind]billing.PlanFunc
}

// NewDispatcher builds the registry. fetcher serves the invoice kinds.
func NewDispatcher(fetcher billing.SubscriptionFetcher) (*Dispatcher, error) {
	invoices, err := billing.NewInvoicePlanner(fetcher)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{handlers: map[EventKind]billing.PlanFunc{
		KindCheckoutCompleted:    billing.PlanCheckoutCompleted,
		KindSubscriptionCreated:  billing.PlanSubscriptionSync,
		KindSubscriptionUpdated:  billing.PlanSubscriptionSync,
		KindSubscriptionDeleted:  billing.PlanSubscriptionDeleted,
		KindInvoicePaid:          invoices.Plan,
		KindInvoicePaymentFailed: invoices.Plan,
		KindProduct:              billing.PlanProduct,
		KindPrice:                billing.PlanPrice,
	}}, nil
}

// Handles reports whether a planner is registered for the event type.
func (d *Dispatcher) Handles(eventType stripe.EventType) bool {
	_, ok := d.handlers[KindOf(eventType)]
	return ok
}

// Plan runs the registered planner. Unregistered types become an ignored skip.
func (d *Dispatcher) Plan(ctx context.Context, event *stripe.Event) (billing.Change, error) {
	kind := KindOf(event.Type)
	handler, ok := d.handlers[kind]
	if !ok {
		return billing.Skip{
			Source: billing.Source{EventID: event.ID, EventType: string(event.Type)},
			Result: enums.WebhookResultIgnored,
			Reason: "no handler for " + string(event.Type),
		}, nil
	}
	return handler(ctx, event)
}
