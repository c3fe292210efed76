package cron

import (
	"context"
	"errors"

	stripewebhook "github.com/angelmondragon/launchkit-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
)

const defaultRecoveryLimit = 50

type eventReplayer interface {
	ReplayByStatus(ctx context.Context, status enums.WebhookEventStatus, limit int) (stripewebhook.ReplaySummary, error)
}

type WebhookRecoveryJobParams struct {
	Logger   *logger.Logger
	Replayer eventReplayer
	Limit    int
}

// NewWebhookRecoveryJob re-runs events left pending by a released or expired lease.
// Events whose lease is still live are skipped by the replayer.
func NewWebhookRecoveryJob(params WebhookRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Replayer == nil {
		return nil, errors.New("webhook replayer required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRecoveryLimit
	}
	return &webhookRecoveryJob{logg: params.Logger, replayer: params.Replayer, limit: limit}, nil
}

type webhookRecoveryJob struct {
	logg     *logger.Logger
	replayer eventReplayer
	limit    int
}

func (j *webhookRecoveryJob) Name() string { return "webhook-recovery" }

func (j *webhookRecoveryJob) Run(ctx context.Context) error {
	summary, err := j.replayer.ReplayByStatus(ctx, enums.WebhookEventPending, j.limit)
	if summary.Attempted > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"attempted": summary.Attempted,
			"processed": summary.Processed,
			"ignored":   summary.Ignored,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		}), "maintenance.webhooks_recovered")
	}
	return err
}
