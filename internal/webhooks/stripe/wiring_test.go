package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/launchkit-backend/pkg/config"
	"github.com/angelmondragon/launchkit-backend/pkg/db"
	"github.com/angelmondragon/launchkit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
)

func stackConfig(outboxEnabled bool) *config.Config {
	return &config.Config{
		Stripe:       config.StripeConfig{WebhookSecret: testSecret},
		FeatureFlags: config.FeatureFlagsConfig{Outbox: outboxEnabled},
	}
}

func TestNewStackServesReadSideAfterDelivery(t *testing.T) {
	conn := dbtest.Open(t)
	stack, err := NewStack(StackParams{
		Config:  stackConfig(true),
		DB:      db.Wrap(conn),
		Fetcher: &stubFetcher{},
	})
	require.NoError(t, err)

	payload := checkoutPayload(t, "evt_stack")
	status, err := stack.Processor.Handle(context.Background(), payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, AckProcessed, status)

	summary, err := stack.Billing.CurrentSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", summary.SubscriptionID)

	entitled, err := stack.Entitlements.HasActiveSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, entitled)

	var outboxRows int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&outboxRows).Error)
	assert.EqualValues(t, 2, outboxRows)
}

func TestNewStackWithoutOutboxWritesNoEvents(t *testing.T) {
	conn := dbtest.Open(t)
	stack, err := NewStack(StackParams{
		Config:  stackConfig(false),
		DB:      db.Wrap(conn),
		Fetcher: &stubFetcher{},
	})
	require.NoError(t, err)

	payload := checkoutPayload(t, "evt_no_outbox")
	_, err = stack.Processor.Handle(context.Background(), payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)

	var outboxRows int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&outboxRows).Error)
	assert.Zero(t, outboxRows)
}

func TestNewStackRequiresDependencies(t *testing.T) {
	_, err := NewStack(StackParams{Config: stackConfig(true)})
	require.Error(t, err)

	_, err = NewStack(StackParams{Config: stackConfig(true), DB: db.Wrap(dbtest.Open(t))})
	require.Error(t, err)

	_, err = NewStack(StackParams{Config: &config.Config{}, DB: db.Wrap(dbtest.Open(t)), Fetcher: &stubFetcher{}})
	require.Error(t, err, "blank webhook secret must be rejected")
}
