package stripewebhook

import (
	"context"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/launchkit-backend/internal/billing"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

func TestKindOf(t *testing.T) {
	cases := map[stripe.EventType]EventKind{
		stripe.EventTypeCheckoutSessionCompleted:    KindCheckoutCompleted,
		stripe.EventTypeCustomerSubscriptionCreated: KindSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated: KindSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted: KindSubscriptionDeleted,
		stripe.EventTypeInvoicePaid:                 KindInvoicePaid,
		stripe.EventTypeInvoicePaymentFailed:        KindInvoicePaymentFailed,
		stripe.EventTypeProductDeleted:              KindProduct,
		stripe.EventTypePriceCreated:                KindPrice,
		stripe.EventTypeChargeRefunded:              KindUnknown,
		"something.new":                             KindUnknown,
	}
	for eventType, want := range cases {
		if got := KindOf(eventType); got != want {
			t.Fatalf("%s: expected %s, got %s", eventType, want, got)
		}
	}
}

func TestDispatcherRegistryCoversEveryKnownKind(t *testing.T) {
	d, err := NewDispatcher(&stubFetcher{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	for kind := range kindNames {
		_, ok := d.handlers[kind]
		if kind == KindUnknown && ok {
			t.Fatalf("unknown kind must not have a handler")
		}
		if kind != KindUnknown && !ok {
			t.Fatalf("kind %s has no handler", kind)
		}
	}
	if d.Handles("charge.refunded") {
		t.Fatalf("unregistered type reported as handled")
	}
}

func TestDispatcherIgnoresUnknownTypes(t *testing.T) {
	d, _ := NewDispatcher(&stubFetcher{})
	change, err := d.Plan(context.Background(), &stripe.Event{ID: "evt_x", Type: "charge.refunded"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	skip, ok := change.(billing.Skip)
	if !ok || skip.Result != enums.WebhookResultIgnored {
		t.Fatalf("expected ignored skip, got %#v", change)
	}
}

func TestNewDispatcherRequiresFetcher(t *testing.T) {
	if _, err := NewDispatcher(nil); err == nil {
		t.Fatal("expected error without fetcher")
	}
}
