package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/launchkit-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/launchkit-backend/api/controllers/admin"
	billingcontrollers "github.com/angelmondragon/launchkit-backend/api/controllers/billing"
	webhookcontrollers "github.com/angelmondragon/launchkit-backend/api/controllers/webhooks"
	"github.com/angelmondragon/launchkit-backend/api/middleware"
	"github.com/angelmondragon/launchkit-backend/pkg/config"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/redis"
)

const (
	adminRateLimit   = 60
	billingRateLimit = 120
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger controllers.Pinger,
	redisPinger controllers.Pinger,
	rateLimiter redis.RateLimiter,
	metricsHandler http.Handler,
	webhookProcessor webhookcontrollers.StripeWebhookProcessor,
	subscriptions billingcontrollers.SubscriptionReader,
	entitlements billingcontrollers.EntitlementChecker,
	webhookEvents admincontrollers.WebhookEventLister,
	replayer admincontrollers.WebhookReplayer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.ReadinessCheck{Name: "postgres", Pinger: dbPinger},
			controllers.ReadinessCheck{Name: "redis", Pinger: redisPinger},
		))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Webhook.RequestTimeout))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(webhookProcessor, cfg.Webhook.MaxBodyBytes, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(middleware.NewRateLimitPolicy("billing", time.Minute, billingRateLimit), rateLimiter, logg))
		r.Get("/subscription", billingcontrollers.CurrentSubscription(subscriptions, entitlements, logg))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(cfg.JWT.AdminRole, logg))
		r.Use(middleware.RateLimit(middleware.NewRateLimitPolicy("admin", time.Minute, adminRateLimit), rateLimiter, logg))
		r.Route("/webhook-events", func(r chi.Router) {
			r.Get("/", admincontrollers.WebhookEventsList(webhookEvents, logg))
			r.With(middleware.Timeout(cfg.Webhook.RequestTimeout)).
				Post("/{id}/replay", admincontrollers.WebhookEventReplay(replayer, logg))
		})
	})

	return r
}
