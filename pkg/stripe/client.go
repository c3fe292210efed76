package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"

	"github.com/angelmondragon/launchkit-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultAPITimeout = 5 * time.Second
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	apiTimeout    time.Duration
	getSub        func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)
	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
		apiTimeout:    timeout,
		getSub:        subscription.Get,
	}, nil
}

// FetchSubscription retrieves a subscription, bounded by the configured API timeout.
// Rate limits, 5xx and network failures surface as CodeDependency so callers retry.
func (c *Client) FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if c == nil || c.getSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client not configured")
	}
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	timeout := c.apiTimeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.getSub(id, params)
	if err != nil {
		return nil, classifyAPIError(err, "fetch stripe subscription")
	}
	return sub, nil
}

func classifyAPIError(err error, msg string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, msg)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
		case stripeErr.HTTPStatusCode >= http.StatusBadRequest:
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
