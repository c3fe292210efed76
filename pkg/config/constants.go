package config

const (
	EnvPrefix = "LAUNCHKIT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "LAUNCHKIT_APP_ENV"
	EnvPort     = "LAUNCHKIT_APP_PORT"
	EnvLogLevel = "LAUNCHKIT_LOG_LEVEL"

	EnvDBDSN  = "LAUNCHKIT_DB_DSN"
	EnvDBHost = "LAUNCHKIT_DB_HOST"
	EnvDBUser = "LAUNCHKIT_DB_USER"
	EnvDBName = "LAUNCHKIT_DB_NAME"

	EnvRedisURL = "LAUNCHKIT_REDIS_URL"

	EnvJWTSecret = "LAUNCHKIT_JWT_SECRET"
	EnvJWTIssuer = "LAUNCHKIT_JWT_ISSUER"

	EnvStripeAPIKey        = "LAUNCHKIT_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "LAUNCHKIT_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv           = "LAUNCHKIT_STRIPE_ENV"

	EnvWebhookClaimTTL = "LAUNCHKIT_WEBHOOK_CLAIM_TTL"

	EnvGCPProjectID       = "LAUNCHKIT_GCP_PROJECT_ID"
	EnvPubSubBillingTopic = "LAUNCHKIT_PUBSUB_BILLING_TOPIC"
	EnvCORSOrigins        = "LAUNCHKIT_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
