package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
)

// PlanFunc decides the change an event calls for. It never writes.
type PlanFunc func(ctx context.Context, event *stripe.Event) (Change, error)

// SubscriptionFetcher retrieves the current subscription from Stripe within a bounded time.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

var userIDMetadataKeys = []string{"userId", "user_id"}

// PlanCheckoutCompleted handles checkout.session.completed.
func PlanCheckoutCompleted(_ context.Context, event *stripe.Event) (Change, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return nil, err
	}
	src := sourceOf(event)

	if session.Mode != "" && session.Mode != stripe.CheckoutSessionModeSubscription {
		return Skip{Source: src, Result: enums.WebhookResultNoop, Reason: fmt.Sprintf("checkout mode %q has no subscription", session.Mode)}, nil
	}

	status, err := checkoutStatus(session.PaymentStatus)
	if err != nil {
		return nil, err
	}

	change := CheckoutCompleted{
		Source:   src,
		UserID:   userIDFrom(session.Metadata),
		Status:   status,
		PriceID:  trimmedPtr(session.Metadata["priceId"]),
		Plan:     trimmedPtr(session.Metadata["plan"]),
		Metadata: session.Metadata,
	}
	if change.UserID == "" {
		change.UserID = strings.TrimSpace(session.ClientReferenceID)
	}
	if session.Customer != nil {
		change.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		change.StripeSubscriptionID = session.Subscription.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		change.Email = trimmedPtr(session.CustomerDetails.Email)
	} else {
		change.Email = trimmedPtr(session.CustomerEmail)
	}

	if err := validateChange(change); err != nil {
		return nil, err
	}
	return change, nil
}

// PlanSubscriptionSync handles customer.subscription.created and customer.subscription.updated.
func PlanSubscriptionSync(_ context.Context, event *stripe.Event) (Change, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	return syncFromSubscription(sourceOf(event), &sub)
}

// PlanSubscriptionDeleted handles customer.subscription.deleted. The owner is not required.
func PlanSubscriptionDeleted(_ context.Context, event *stripe.Event) (Change, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	change := SubscriptionCanceled{
		Source:               sourceOf(event),
		StripeSubscriptionID: sub.ID,
		CanceledAt:           toTimePtr(sub.CanceledAt),
		EndedAt:              toTimePtr(sub.EndedAt),
	}
	if err := validateChange(change); err != nil {
		return nil, err
	}
	return change, nil
}

// InvoicePlanner handles invoice.paid and invoice.payment_failed by re-reading the subscription.
type InvoicePlanner struct {
	fetcher SubscriptionFetcher
}

func NewInvoicePlanner(fetcher SubscriptionFetcher) (*InvoicePlanner, error) {
	if fetcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription fetcher required")
	}
	return &InvoicePlanner{fetcher: fetcher}, nil
}

func (p *InvoicePlanner) Plan(ctx context.Context, event *stripe.Event) (Change, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeMalformed, "event data is missing")
	}
	src := sourceOf(event)

	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		subscriptionID = event.GetObjectValue("parent", "subscription_details", "subscription")
	}
	if subscriptionID == "" {
		return Skip{Source: src, Result: enums.WebhookResultNoop, Reason: "invoice is not tied to a subscription"}, nil
	}

	sub, err := p.fetcher.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe returned no subscription")
	}
	return syncFromSubscription(src, sub)
}

// PlanProduct handles product.created, product.updated and product.deleted.
func PlanProduct(_ context.Context, event *stripe.Event) (Change, error) {
	var product stripe.Product
	if err := decodeObject(event, &product); err != nil {
		return nil, err
	}
	change := ProductSync{
		Source:      sourceOf(event),
		ID:          product.ID,
		Active:      product.Active && event.Type != stripe.EventTypeProductDeleted,
		Name:        product.Name,
		Description: trimmedPtr(product.Description),
		Metadata:    product.Metadata,
	}
	if err := validateChange(change); err != nil {
		return nil, err
	}
	return change, nil
}

// PlanPrice handles price.created, price.updated and price.deleted.
func PlanPrice(_ context.Context, event *stripe.Event) (Change, error) {
	var price stripe.Price
	if err := decodeObject(event, &price); err != nil {
		return nil, err
	}
	change := PriceSync{
		Source:   sourceOf(event),
		ID:       price.ID,
		Active:   price.Active && event.Type != stripe.EventTypePriceDeleted,
		Currency: strings.ToLower(string(price.Currency)),
		Type:     string(price.Type),
		Nickname: trimmedPtr(price.Nickname),
		Metadata: price.Metadata,
	}
	if price.Product != nil {
		change.ProductID = price.Product.ID
	}
	if price.UnitAmount > 0 || price.BillingScheme != stripe.PriceBillingSchemeTiered {
		amount := price.UnitAmount
		change.UnitAmount = &amount
	}
	if price.Recurring != nil {
		interval := string(price.Recurring.Interval)
		count := price.Recurring.IntervalCount
		change.Interval = &interval
		change.IntervalCount = &count
	}
	if err := validateChange(change); err != nil {
		return nil, err
	}
	return change, nil
}

func syncFromSubscription(src Source, sub *stripe.Subscription) (Change, error) {
	state, err := stateFromStripe(sub)
	if err != nil {
		return nil, err
	}
	change := SubscriptionSync{Source: src, State: state}
	if err := validateChange(change); err != nil {
		return nil, err
	}
	return change, nil
}

func stateFromStripe(sub *stripe.Subscription) (SubscriptionState, error) {
	status, err := enums.ParseSubscriptionStatus(string(sub.Status))
	if err != nil {
		return SubscriptionState{}, pkgerrors.Wrap(pkgerrors.CodeMalformed, err, "unknown subscription status")
	}

	state := SubscriptionState{
		StripeSubscriptionID: sub.ID,
		UserID:               userIDFrom(sub.Metadata),
		Status:               status,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CancelAt:             toTimePtr(sub.CancelAt),
		CanceledAt:           toTimePtr(sub.CanceledAt),
		EndedAt:              toTimePtr(sub.EndedAt),
		TrialStart:           toTimePtr(sub.TrialStart),
		TrialEnd:             toTimePtr(sub.TrialEnd),
		Metadata:             sub.Metadata,
	}
	if sub.Customer != nil {
		state.StripeCustomerID = sub.Customer.ID
		state.Email = trimmedPtr(sub.Customer.Email)
	}

	if item := firstItem(sub); item != nil {
		state.CurrentPeriodStart = toTimePtr(item.CurrentPeriodStart)
		state.CurrentPeriodEnd = toTimePtr(item.CurrentPeriodEnd)
		if item.Quantity > 0 {
			qty := item.Quantity
			state.Quantity = &qty
		}
		if item.Price != nil {
			state.PriceID = trimmedPtr(item.Price.ID)
			state.Plan = trimmedPtr(item.Price.Nickname)
		}
	}
	if plan := trimmedPtr(sub.Metadata["plan"]); plan != nil {
		state.Plan = plan
	}
	return state, nil
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil {
		return nil
	}
	for _, item := range sub.Items.Data {
		if item != nil {
			return item
		}
	}
	return nil
}

// checkoutStatus treats a session without payment_status as paid.
func checkoutStatus(status stripe.CheckoutSessionPaymentStatus) (enums.SubscriptionStatus, error) {
	switch status {
	case stripe.CheckoutSessionPaymentStatusPaid, "":
		return enums.SubscriptionStatusActive, nil
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return enums.SubscriptionStatusTrialing, nil
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		return enums.SubscriptionStatusIncomplete, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeMalformed, fmt.Sprintf("unknown checkout payment status %q", status))
	}
}

func decodeObject(event *stripe.Event, dest any) error {
	if event == nil || event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeMalformed, "event data is missing")
	}
	if err := json.Unmarshal(event.Data.Raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMalformed, err, fmt.Sprintf("decode %s payload", event.Type))
	}
	return nil
}

func sourceOf(event *stripe.Event) Source {
	occurred := time.Now().UTC()
	if event.Created > 0 {
		occurred = time.Unix(event.Created, 0).UTC()
	}
	return Source{EventID: event.ID, EventType: string(event.Type), OccurredAt: occurred}
}

func userIDFrom(metadata map[string]string) string {
	for _, key := range userIDMetadataKeys {
		if v := strings.TrimSpace(metadata[key]); v != "" {
			return v
		}
	}
	return ""
}

func toTimePtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
