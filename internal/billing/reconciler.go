package billing

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/launchkit-backend/pkg/db"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/launchkit-backend/pkg/db/types"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/outbox"
	"github.com/angelmondragon/launchkit-backend/pkg/outbox/payloads"
)

const actorSource = "stripe"

// OutboxEmitter queues domain events in the caller's transaction.
type OutboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Reconciler applies planned changes to local billing state.
type Reconciler struct {
	repo   Repository
	outbox OutboxEmitter
	logg   *logger.Logger
}

// NewReconciler builds a reconciler. A nil emitter disables domain events.
func NewReconciler(repo Repository, emitter OutboxEmitter, logg *logger.Logger) (*Reconciler, error) {
	if repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{repo: repo, outbox: emitter, logg: logg}, nil
}

// Apply writes change inside tx. Every write is conditional so that replays and
// out-of-order deliveries converge on the newest provider state.
func (r *Reconciler) Apply(ctx context.Context, tx *gorm.DB, change Change) (Outcome, error) {
	if change == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, "nil change")
	}
	if err := validateChange(change); err != nil {
		return Outcome{}, err
	}
	repo := r.repo.WithTx(tx)

	var (
		outcome Outcome
		err     error
	)
	switch c := change.(type) {
	case CheckoutCompleted:
		outcome, err = r.applyCheckout(ctx, tx, repo, c)
	case SubscriptionSync:
		outcome, err = r.applySync(ctx, tx, repo, c)
	case SubscriptionCanceled:
		outcome, err = r.applyCancel(ctx, tx, repo, c)
	case ProductSync:
		outcome, err = r.applyProduct(ctx, repo, c)
	case PriceSync:
		outcome, err = r.applyPrice(ctx, repo, c)
	case Skip:
		result := c.Result
		if !result.IsValid() {
			result = enums.WebhookResultNoop
		}
		r.logg.Debug(r.logg.WithField(ctx, "reason", c.Reason), "billing.change_skipped")
		return Outcome{Result: result}, nil
	default:
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unsupported change %T", change))
	}
	if err != nil {
		return Outcome{}, classify(err)
	}
	return outcome, nil
}

func (r *Reconciler) applyCheckout(ctx context.Context, tx *gorm.DB, repo Repository, c CheckoutCompleted) (Outcome, error) {
	customer, err := r.linkCustomer(ctx, tx, repo, c.Source, c.UserID, c.StripeCustomerID, c.Email)
	if err != nil {
		return Outcome{}, err
	}

	sub := &models.Subscription{
		UserID:               c.UserID,
		CustomerID:           &customer.ID,
		StripeSubscriptionID: c.StripeSubscriptionID,
		StripeCustomerID:     c.StripeCustomerID,
		Status:               c.Status,
		PriceID:              c.PriceID,
		Plan:                 c.Plan,
		Metadata:             metadataJSON(c.Metadata),
		LastEventAt:          c.OccurredAt,
	}
	inserted, err := repo.InsertSubscriptionIfAbsent(ctx, sub)
	if err != nil {
		return Outcome{}, err
	}
	if !inserted {
		return Outcome{Result: enums.WebhookResultNoop}, nil
	}
	if err := r.emitSubscriptionChanged(ctx, tx, c.Source, sub, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: enums.WebhookResultApplied, UserID: c.UserID}, nil
}

func (r *Reconciler) applySync(ctx context.Context, tx *gorm.DB, repo Repository, c SubscriptionSync) (Outcome, error) {
	state := c.State
	previous, err := repo.FindSubscriptionByStripeID(ctx, state.StripeSubscriptionID)
	if err != nil {
		return Outcome{}, err
	}
	if previous != nil && previous.Status.IsTerminal() {
		return Outcome{Result: enums.WebhookResultNoop}, nil
	}

	customer, err := r.linkCustomer(ctx, tx, repo, c.Source, state.UserID, state.StripeCustomerID, state.Email)
	if err != nil {
		return Outcome{}, err
	}

	row := &models.Subscription{
		UserID:               state.UserID,
		CustomerID:           &customer.ID,
		StripeSubscriptionID: state.StripeSubscriptionID,
		StripeCustomerID:     state.StripeCustomerID,
		Status:               state.Status,
		PriceID:              state.PriceID,
		Plan:                 state.Plan,
		Quantity:             state.Quantity,
		CurrentPeriodStart:   state.CurrentPeriodStart,
		CurrentPeriodEnd:     state.CurrentPeriodEnd,
		CancelAtPeriodEnd:    state.CancelAtPeriodEnd,
		CancelAt:             state.CancelAt,
		CanceledAt:           state.CanceledAt,
		EndedAt:              state.EndedAt,
		TrialStart:           state.TrialStart,
		TrialEnd:             state.TrialEnd,
		Metadata:             metadataJSON(state.Metadata),
		LastEventAt:          c.OccurredAt,
	}
	if previous != nil {
		row.ID = previous.ID
	}
	written, err := repo.UpsertSubscription(ctx, row)
	if err != nil {
		return Outcome{}, err
	}
	if !written {
		return Outcome{Result: enums.WebhookResultNoop}, nil
	}

	current, err := repo.FindSubscriptionByStripeID(ctx, state.StripeSubscriptionID)
	if err != nil {
		return Outcome{}, err
	}
	if current == nil {
		return Outcome{}, fmt.Errorf("subscription %s vanished after upsert", state.StripeSubscriptionID)
	}
	var previousStatus *enums.SubscriptionStatus
	if previous != nil {
		status := previous.Status
		previousStatus = &status
	}
	if err := r.emitSubscriptionChanged(ctx, tx, c.Source, current, previousStatus); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: enums.WebhookResultApplied, UserID: current.UserID}, nil
}

func (r *Reconciler) applyCancel(ctx context.Context, tx *gorm.DB, repo Repository, c SubscriptionCanceled) (Outcome, error) {
	previous, err := repo.FindSubscriptionByStripeID(ctx, c.StripeSubscriptionID)
	if err != nil {
		return Outcome{}, err
	}
	if previous == nil || previous.Status.IsTerminal() {
		return Outcome{Result: enums.WebhookResultNoop}, nil
	}

	canceledAt := c.CanceledAt
	if canceledAt == nil {
		at := c.OccurredAt
		canceledAt = &at
	}
	updated, err := repo.CancelSubscription(ctx, c.StripeSubscriptionID, Cancellation{
		CanceledAt: canceledAt,
		EndedAt:    c.EndedAt,
		EventAt:    c.OccurredAt,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !updated {
		return Outcome{Result: enums.WebhookResultNoop}, nil
	}

	current, err := repo.FindSubscriptionByStripeID(ctx, c.StripeSubscriptionID)
	if err != nil {
		return Outcome{}, err
	}
	if current == nil {
		return Outcome{}, fmt.Errorf("subscription %s vanished after cancel", c.StripeSubscriptionID)
	}
	status := previous.Status
	if err := r.emitSubscriptionChanged(ctx, tx, c.Source, current, &status); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: enums.WebhookResultApplied, UserID: current.UserID}, nil
}

func (r *Reconciler) applyProduct(ctx context.Context, repo Repository, c ProductSync) (Outcome, error) {
	written, err := repo.UpsertProduct(ctx, &models.Product{
		ID:          c.ID,
		Active:      c.Active,
		Name:        c.Name,
		Description: c.Description,
		Metadata:    metadataJSON(c.Metadata),
		LastEventAt: c.OccurredAt,
	})
	if err != nil {
		return Outcome{}, err
	}
	return writtenOutcome(written), nil
}

func (r *Reconciler) applyPrice(ctx context.Context, repo Repository, c PriceSync) (Outcome, error) {
	written, err := repo.UpsertPrice(ctx, &models.Price{
		ID:            c.ID,
		ProductID:     c.ProductID,
		Active:        c.Active,
		Currency:      c.Currency,
		UnitAmount:    c.UnitAmount,
		Type:          c.Type,
		Interval:      c.Interval,
		IntervalCount: c.IntervalCount,
		Nickname:      c.Nickname,
		Metadata:      metadataJSON(c.Metadata),
		LastEventAt:   c.OccurredAt,
	})
	if err != nil {
		return Outcome{}, err
	}
	return writtenOutcome(written), nil
}

func (r *Reconciler) linkCustomer(ctx context.Context, tx *gorm.DB, repo Repository, src Source, userID, stripeCustomerID string, email *string) (*models.Customer, error) {
	customer, created, err := repo.EnsureCustomer(ctx, &models.Customer{
		UserID:           userID,
		StripeCustomerID: stripeCustomerID,
		Email:            email,
	})
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("customer for %s could not be linked", userID)
	}
	if !created || r.outbox == nil {
		return customer, nil
	}
	err = r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCustomerLinked,
		AggregateType: enums.AggregateCustomer,
		AggregateID:   customer.ID,
		Actor:         actorFor(src, userID),
		OccurredAt:    src.OccurredAt,
		Data: payloads.CustomerLinkedEvent{
			CustomerID:       customer.ID,
			UserID:           customer.UserID,
			StripeCustomerID: customer.StripeCustomerID,
		},
	})
	return customer, err
}

func (r *Reconciler) emitSubscriptionChanged(ctx context.Context, tx *gorm.DB, src Source, sub *models.Subscription, previous *enums.SubscriptionStatus) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         actorFor(src, sub.UserID),
		OccurredAt:    src.OccurredAt,
		Data: payloads.SubscriptionChangedEvent{
			SubscriptionID:       sub.ID,
			StripeSubscriptionID: sub.StripeSubscriptionID,
			UserID:               sub.UserID,
			Status:               sub.Status,
			PreviousStatus:       previous,
			PriceID:              sub.PriceID,
			CurrentPeriodEnd:     sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
			Entitled:             sub.Status.IsEntitled(),
			SourceEventType:      src.EventType,
		},
	})
}

func actorFor(src Source, userID string) *outbox.ActorRef {
	return &outbox.ActorRef{Source: actorSource, EventID: src.EventID, UserID: userID}
}

func writtenOutcome(written bool) Outcome {
	if written {
		return Outcome{Result: enums.WebhookResultApplied}
	}
	return Outcome{Result: enums.WebhookResultNoop}
}

func metadataJSON(metadata map[string]string) dbtypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	return dbtypes.MustMarshal(metadata)
}

// classify keeps typed errors and marks infrastructure failures as transient.
func classify(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if db.IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "billing store unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reconcile billing state")
}
