package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/launchkit-backend/internal/billing"
	"github.com/angelmondragon/launchkit-backend/internal/webhookevents"
	"github.com/angelmondragon/launchkit-backend/pkg/db"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/launchkit-backend/pkg/db/types"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/metrics"
)

// AckStatus is the status reported back to the sender alongside received=true.
type AckStatus string

const (
	AckProcessed AckStatus = "processed"
	AckDuplicate AckStatus = "duplicate"
	AckIgnored   AckStatus = "ignored"
	AckFailed    AckStatus = "failed"

	defaultClaimTTL = 2 * time.Minute

	statusRejected = "rejected"
	statusError    = "error"
)

type planner interface {
	Plan(ctx context.Context, event *stripe.Event) (billing.Change, error)
}

type reconciler interface {
	Apply(ctx context.Context, tx *gorm.DB, change billing.Change) (billing.Outcome, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EntitlementInvalidator drops cached entitlement after a subscription change commits.
type EntitlementInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type ProcessorParams struct {
	Verifier     *Verifier
	Events       webhookevents.Repository
	Dispatcher   planner
	Reconciler   reconciler
	TxRunner     txRunner
	Entitlements EntitlementInvalidator
	Metrics      *metrics.WebhookMetrics
	ClaimTTL     time.Duration
	Logger       *logger.Logger
}

// Processor runs a delivery through verify, record, dispatch and reconcile.
type Processor struct {
	verifier     *Verifier
	events       webhookevents.Repository
	dispatcher   planner
	reconciler   reconciler
	tx           txRunner
	entitlements EntitlementInvalidator
	metrics      *metrics.WebhookMetrics
	claimTTL     time.Duration
	logg         *logger.Logger
	now          func() time.Time
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event store required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	claimTTL := params.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Processor{
		verifier:     params.Verifier,
		events:       params.Events,
		dispatcher:   params.Dispatcher,
		reconciler:   params.Reconciler,
		tx:           params.TxRunner,
		entitlements: params.Entitlements,
		metrics:      params.Metrics,
		claimTTL:     claimTTL,
		logg:         logg,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle processes one delivery. A nil error means the sender must receive 200 with the
// returned status. Errors are either a VerificationError or a transient failure the sender
// should retry.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (AckStatus, error) {
	started := time.Now()

	event, err := p.verifier.Verify(payload, signature)
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "reason", err.Error()), "webhook.rejected")
		p.metrics.Observe("", statusRejected, time.Since(started))
		return "", err
	}

	ctx = p.logg.WithEvent(ctx, event.ID, string(event.Type))
	status, err := p.receive(ctx, &event, payload)
	if err != nil {
		p.logg.Error(ctx, "webhook.transient_failure", err)
		p.metrics.Observe(string(event.Type), statusError, time.Since(started))
		return "", err
	}
	p.metrics.Observe(string(event.Type), string(status), time.Since(started))
	return status, nil
}

func (p *Processor) receive(ctx context.Context, event *stripe.Event, payload []byte) (AckStatus, error) {
	row := &models.WebhookEvent{
		ID:       event.ID,
		Type:     string(event.Type),
		Livemode: event.Livemode,
		Created:  time.Unix(event.Created, 0).UTC(),
		Payload:  dbtypes.JSON(payload),
	}
	if event.APIVersion != "" {
		version := event.APIVersion
		row.APIVersion = &version
	}

	inserted, err := p.events.RecordIfNew(ctx, row)
	if err != nil {
		return "", transient(err, "record webhook event")
	}
	if !inserted {
		claimed, err := p.reclaim(ctx, event.ID)
		if err != nil {
			return "", err
		}
		if !claimed {
			p.logg.Info(ctx, "webhook.duplicate")
			return AckDuplicate, nil
		}
		p.logg.Info(ctx, "webhook.reclaimed")
	} else {
		p.logg.Info(ctx, "webhook.received")
	}
	return p.process(ctx, event)
}

// reclaim takes over a redelivered event only when no other attempt holds a live lease.
func (p *Processor) reclaim(ctx context.Context, id string) (bool, error) {
	stored, err := p.events.Get(ctx, id)
	if err != nil {
		return false, transient(err, "load webhook event")
	}
	if stored == nil || stored.ProcessingStatus.IsSettled() {
		return false, nil
	}
	claimed, err := p.events.Claim(ctx, id, p.now().Add(-p.claimTTL))
	if err != nil {
		return false, transient(err, "claim webhook event")
	}
	return claimed, nil
}

// process plans and applies an event the caller holds the lease on.
func (p *Processor) process(ctx context.Context, event *stripe.Event) (AckStatus, error) {
	change, err := p.dispatcher.Plan(ctx, event)
	if err != nil {
		return p.fail(ctx, event.ID, err)
	}

	var outcome billing.Outcome
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := p.reconciler.Apply(ctx, tx, change)
		if err != nil {
			return err
		}
		outcome = applied
		return p.events.WithTx(tx).MarkProcessed(ctx, event.ID, applied.Result)
	})
	if err != nil {
		return p.fail(ctx, event.ID, err)
	}

	if outcome.UserID != "" && p.entitlements != nil {
		if err := p.entitlements.Invalidate(ctx, outcome.UserID); err != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "webhook.entitlement_invalidate_failed")
		}
	}

	p.logg.Info(p.logg.WithField(ctx, "result", outcome.Result), "webhook.processed")
	if outcome.Result == enums.WebhookResultIgnored {
		return AckIgnored, nil
	}
	return AckProcessed, nil
}

// fail settles a business failure, or releases the lease on a transient one.
func (p *Processor) fail(ctx context.Context, id string, cause error) (AckStatus, error) {
	if isTransient(cause) {
		if err := p.events.Release(ctx, id, describe(cause)); err != nil {
			p.logg.Error(ctx, "webhook.release_failed", err)
		}
		return "", transient(cause, "process webhook event")
	}

	result := enums.WebhookResultError
	if pkgerrors.HasCode(cause, pkgerrors.CodeMalformed) {
		result = enums.WebhookResultMalformed
	}
	if err := p.events.MarkFailed(ctx, id, result, describe(cause)); err != nil {
		return "", transient(err, "record webhook failure")
	}
	p.logg.Warn(p.logg.WithFields(ctx, map[string]any{"result": result, "error": describe(cause)}), "webhook.failed")
	return AckFailed, nil
}

func isTransient(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeTransient) ||
		pkgerrors.HasCode(err, pkgerrors.CodeDependency) ||
		db.IsTransient(err)
}

func transient(err error, msg string) error {
	if pkgerrors.HasCode(err, pkgerrors.CodeTransient) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransient, err, msg)
}

// describe keeps the wrapped cause, which typed errors leave out of Error().
func describe(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err.Error()
	}
	if cause := errors.Unwrap(typed); cause != nil {
		return typed.Error() + ": " + cause.Error()
	}
	return typed.Error()
}
