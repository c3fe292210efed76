package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	Entitlements EntitlementsConfig
	CORS         CORSConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Stripe.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LAUNCHKIT_APP_ENV" required:"true"`
	Port         string `envconfig:"LAUNCHKIT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LAUNCHKIT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LAUNCHKIT_LOG_WARN_STACK" default:"false"`

	ReadTimeout     time.Duration `envconfig:"LAUNCHKIT_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"LAUNCHKIT_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"LAUNCHKIT_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LAUNCHKIT_DB_DSN"`
	Driver string `envconfig:"LAUNCHKIT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LAUNCHKIT_DB_HOST"`
	LegacyPort     int    `envconfig:"LAUNCHKIT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LAUNCHKIT_DB_USER"`
	LegacyPassword string `envconfig:"LAUNCHKIT_DB_PASSWORD"`
	LegacyName     string `envconfig:"LAUNCHKIT_DB_NAME"`
	LegacySSLMode  string `envconfig:"LAUNCHKIT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LAUNCHKIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LAUNCHKIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LAUNCHKIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LAUNCHKIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LAUNCHKIT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LAUNCHKIT_REDIS_ADDR"`
	Password     string        `envconfig:"LAUNCHKIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"LAUNCHKIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LAUNCHKIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LAUNCHKIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LAUNCHKIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LAUNCHKIT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"LAUNCHKIT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// JWTConfig describes the access tokens minted by the managed auth provider.
type JWTConfig struct {
	Secret    string `envconfig:"LAUNCHKIT_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"LAUNCHKIT_JWT_ISSUER"`
	Audience  string `envconfig:"LAUNCHKIT_JWT_AUDIENCE" default:"authenticated"`
	AdminRole string `envconfig:"LAUNCHKIT_ADMIN_ROLE" default:"service_role"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"LAUNCHKIT_STRIPE_API_KEY" required:"true"`
	WebhookSecret string        `envconfig:"LAUNCHKIT_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env           string        `envconfig:"LAUNCHKIT_STRIPE_ENV" default:"test"`
	APITimeout    time.Duration `envconfig:"LAUNCHKIT_STRIPE_API_TIMEOUT" default:"5s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (s StripeConfig) validate() error {
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("%s is required", EnvStripeAPIKey)
	}
	if strings.TrimSpace(s.WebhookSecret) == "" {
		return fmt.Errorf("%s is required", EnvStripeWebhookSecret)
	}
	return nil
}

type WebhookConfig struct {
	MaxBodyBytes     int64         `envconfig:"LAUNCHKIT_WEBHOOK_MAX_BODY_BYTES" default:"65536"`
	RequestTimeout   time.Duration `envconfig:"LAUNCHKIT_WEBHOOK_TIMEOUT" default:"10s"`
	SignatureTTL     time.Duration `envconfig:"LAUNCHKIT_WEBHOOK_SIGNATURE_TOLERANCE" default:"5m"`
	ClaimTTL         time.Duration `envconfig:"LAUNCHKIT_WEBHOOK_CLAIM_TTL" default:"2m"`
	ReplayBatchLimit int           `envconfig:"LAUNCHKIT_WEBHOOK_REPLAY_LIMIT" default:"100"`
}

type EntitlementsConfig struct {
	CacheTTL time.Duration `envconfig:"LAUNCHKIT_ENTITLEMENT_CACHE_TTL" default:"5m"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"LAUNCHKIT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LAUNCHKIT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LAUNCHKIT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LAUNCHKIT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"LAUNCHKIT_PUBSUB_BILLING_TOPIC" default:"launchkit-billing-events"`
	BillingSubscription string `envconfig:"LAUNCHKIT_PUBSUB_BILLING_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"LAUNCHKIT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"LAUNCHKIT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"LAUNCHKIT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"LAUNCHKIT_OUTBOX_METRICS_ADDR"`
}

// MaintenanceConfig drives the scheduled recovery and retention jobs.
type MaintenanceConfig struct {
	Interval        time.Duration `envconfig:"LAUNCHKIT_MAINTENANCE_INTERVAL" default:"5m"`
	RecoveryLimit   int           `envconfig:"LAUNCHKIT_MAINTENANCE_RECOVERY_LIMIT" default:"50"`
	OutboxRetention time.Duration `envconfig:"LAUNCHKIT_MAINTENANCE_OUTBOX_RETENTION" default:"720h"`
	MetricsAddr     string        `envconfig:"LAUNCHKIT_MAINTENANCE_METRICS_ADDR"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LAUNCHKIT_AUTO_MIGRATE" default:"false"`
	Outbox      bool `envconfig:"LAUNCHKIT_FEATURE_OUTBOX" default:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
