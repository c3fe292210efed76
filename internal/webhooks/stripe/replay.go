package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
)

// ReplaySummary counts what a batch replay did.
type ReplaySummary struct {
	Attempted int `json:"attempted"`
	Processed int `json:"processed"`
	Ignored   int `json:"ignored"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Replay re-dispatches a stored event from its recorded payload. The signature is not
// re-checked: only verified deliveries are ever recorded.
func (p *Processor) Replay(ctx context.Context, id string) (AckStatus, error) {
	stored, err := p.events.Get(ctx, id)
	if err != nil {
		return "", transient(err, "load webhook event")
	}
	if stored == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
	}

	claimed, err := p.events.ClaimForReplay(ctx, id, p.now().Add(-p.claimTTL))
	if err != nil {
		return "", transient(err, "claim webhook event")
	}
	if !claimed {
		return "", pkgerrors.New(pkgerrors.CodeConflict, "webhook event is being processed")
	}

	ctx = p.logg.WithEvent(ctx, stored.ID, stored.Type)
	p.logg.Info(ctx, "webhook.replay")

	var event stripe.Event
	if err := json.Unmarshal(stored.Payload.Raw(), &event); err != nil {
		return p.fail(ctx, id, pkgerrors.Wrap(pkgerrors.CodeMalformed, err, "decode stored payload"))
	}
	if event.ID != stored.ID {
		return p.fail(ctx, id, pkgerrors.New(pkgerrors.CodeMalformed, "stored payload does not match event id"))
	}
	return p.process(ctx, &event)
}

// ReplayByStatus replays up to limit events currently in status. Every event is attempted;
// errors are aggregated.
func (p *Processor) ReplayByStatus(ctx context.Context, status enums.WebhookEventStatus, limit int) (ReplaySummary, error) {
	var summary ReplaySummary
	if !status.IsValid() {
		return summary, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", status))
	}
	rows, err := p.events.ListByStatus(ctx, status, limit)
	if err != nil {
		return summary, transient(err, "list webhook events")
	}

	var errs error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		summary.Attempted++
		ack, err := p.Replay(ctx, row.ID)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
				summary.Skipped++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", row.ID, err))
			continue
		}
		switch ack {
		case AckProcessed:
			summary.Processed++
		case AckIgnored:
			summary.Ignored++
		case AckFailed:
			summary.Failed++
		}
	}
	return summary, errs
}
