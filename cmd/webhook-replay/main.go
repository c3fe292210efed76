package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	stripewebhook "github.com/angelmondragon/launchkit-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/launchkit-backend/pkg/config"
	"github.com/angelmondragon/launchkit-backend/pkg/db"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/redis"
	stripeclient "github.com/angelmondragon/launchkit-backend/pkg/stripe"
)

func main() {
	statusFlag := flag.String("status", string(enums.WebhookEventFailed), "replay events in this status: pending|processed|failed")
	limitFlag := flag.Int("limit", 0, "maximum events to replay (defaults to LAUNCHKIT_WEBHOOK_REPLAY_LIMIT)")
	eventID := flag.String("id", "", "replay a single event by id")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "webhook-replay"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "webhook-replay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	status, err := enums.ParseWebhookEventStatus(*statusFlag)
	if err != nil {
		logg.Error(context.Background(), "invalid -status", err)
		os.Exit(2)
	}
	limit := *limitFlag
	if limit <= 0 {
		limit = cfg.Webhook.ReplayBatchLimit
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg, status, limit, *eventID); err != nil {
		logg.Error(ctx, "webhook replay finished with errors", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, status enums.WebhookEventStatus, limit int, eventID string) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	stripeClient, err := stripeclient.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	stack, err := stripewebhook.NewStack(stripewebhook.StackParams{
		Config:  cfg,
		DB:      dbClient,
		Cache:   redisClient,
		Fetcher: stripeClient,
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	if eventID != "" {
		ack, err := stack.Processor.Replay(ctx, eventID)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{"event_id": eventID, "status": ack}), "webhook.replay_complete")
		return nil
	}

	summary, err := stack.Processor.ReplayByStatus(ctx, status, limit)
	logg.Info(logg.WithFields(ctx, map[string]any{
		"filter_status": status,
		"limit":         limit,
		"attempted":     summary.Attempted,
		"processed":     summary.Processed,
		"ignored":       summary.Ignored,
		"failed":        summary.Failed,
		"skipped":       summary.Skipped,
	}), "webhook.replay_batch_complete")
	return err
}
