package stripewebhook

import (
	"errors"

	"github.com/angelmondragon/launchkit-backend/internal/billing"
	"github.com/angelmondragon/launchkit-backend/internal/entitlements"
	"github.com/angelmondragon/launchkit-backend/internal/webhookevents"
	"github.com/angelmondragon/launchkit-backend/pkg/config"
	"github.com/angelmondragon/launchkit-backend/pkg/db"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/metrics"
	"github.com/angelmondragon/launchkit-backend/pkg/outbox"
	"github.com/angelmondragon/launchkit-backend/pkg/redis"
)

// StackParams carries the shared clients a billing stack is built on.
type StackParams struct {
	Config  *config.Config
	DB      *db.Client
	Cache   redis.Cache
	Fetcher billing.SubscriptionFetcher
	Metrics *metrics.WebhookMetrics
	Logger  *logger.Logger
}

// Stack is the webhook processor together with the read side it keeps current.
type Stack struct {
	Processor    *Processor
	Events       webhookevents.Repository
	Billing      *billing.Service
	Entitlements *entitlements.Service
}

// NewStack wires verifier, event store, dispatcher, reconciler and entitlement cache.
// A nil Cache reads entitlement straight from the database.
func NewStack(params StackParams) (*Stack, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Fetcher == nil {
		return nil, errors.New("subscription fetcher is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := params.Config
	conn := params.DB.DB()

	verifier, err := NewVerifier(cfg.Stripe.WebhookSecret, cfg.Webhook.SignatureTTL)
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(params.Fetcher)
	if err != nil {
		return nil, err
	}

	billingRepo := billing.NewRepository(conn)
	var emitter billing.OutboxEmitter
	if cfg.FeatureFlags.Outbox {
		emitter = outbox.NewService(outbox.NewRepository(conn), logg)
	}
	reconciler, err := billing.NewReconciler(billingRepo, emitter, logg)
	if err != nil {
		return nil, err
	}
	entitlementService, err := entitlements.NewService(params.Cache, billingRepo, cfg.Entitlements.CacheTTL, logg)
	if err != nil {
		return nil, err
	}
	billingService, err := billing.NewService(billingRepo)
	if err != nil {
		return nil, err
	}

	events := webhookevents.NewRepository(conn)
	proc, err := NewProcessor(ProcessorParams{
		Verifier:     verifier,
		Events:       events,
		Dispatcher:   dispatcher,
		Reconciler:   reconciler,
		TxRunner:     params.DB,
		Entitlements: entitlementService,
		Metrics:      params.Metrics,
		ClaimTTL:     cfg.Webhook.ClaimTTL,
		Logger:       logg,
	})
	if err != nil {
		return nil, err
	}

	return &Stack{
		Processor:    proc,
		Events:       events,
		Billing:      billingService,
		Entitlements: entitlementService,
	}, nil
}
