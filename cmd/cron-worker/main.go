package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/launchkit-backend/internal/cron"
	stripewebhook "github.com/angelmondragon/launchkit-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/launchkit-backend/pkg/config"
	"github.com/angelmondragon/launchkit-backend/pkg/db"
	"github.com/angelmondragon/launchkit-backend/pkg/instance"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/metrics"
	"github.com/angelmondragon/launchkit-backend/pkg/migrate"
	"github.com/angelmondragon/launchkit-backend/pkg/outbox"
	"github.com/angelmondragon/launchkit-backend/pkg/redis"
	stripeclient "github.com/angelmondragon/launchkit-backend/pkg/stripe"
)

func main() {
	once := flag.Bool("once", false, "run a single maintenance cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "instance": instance.ID()})

	if err := run(ctx, cfg, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "maintenance.stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	stripeClient, err := stripeclient.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	stack, err := stripewebhook.NewStack(stripewebhook.StackParams{
		Config:  cfg,
		DB:      dbClient,
		Cache:   redisClient,
		Fetcher: stripeClient,
		Metrics: metrics.NewWebhookMetrics(promRegistry),
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	recovery, err := cron.NewWebhookRecoveryJob(cron.WebhookRecoveryJobParams{
		Logger:   logg,
		Replayer: stack.Processor,
		Limit:    cfg.Maintenance.RecoveryLimit,
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Maintenance.OutboxRetention,
	})
	if err != nil {
		return err
	}
	registry, err := cron.NewRegistry(recovery, retention)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("maintenance:"+cfg.App.Env), 2*cfg.Maintenance.Interval)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(promRegistry),
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		return err
	}

	if once {
		_, err := service.RunOnce(ctx)
		return err
	}

	if addr := cfg.Maintenance.MetricsAddr; addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "maintenance.metrics_server_failed", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = multierr.Append(err, metricsServer.Shutdown(shutdownCtx))
		}()
	}

	logg.Info(logg.WithField(ctx, "interval", cfg.Maintenance.Interval.String()), "maintenance.starting")
	return service.Run(ctx)
}
