package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/launchkit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(v string) *string { return &v }

func subscriptionRow(status enums.SubscriptionStatus, eventAt time.Time) *models.Subscription {
	return &models.Subscription{
		UserID:               "u1",
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		Status:               status,
		PriceID:              strPtr("price_1"),
		LastEventAt:          eventAt,
	}
}

func TestEnsureCustomerCreatesOnce(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	first, created, err := repo.EnsureCustomer(ctx, &models.Customer{UserID: "u1", StripeCustomerID: "cus_1"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.EnsureCustomer(ctx, &models.Customer{UserID: "u1", StripeCustomerID: "cus_1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnsureCustomerUpdatesEmail(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	_, _, err := repo.EnsureCustomer(ctx, &models.Customer{UserID: "u1", StripeCustomerID: "cus_1"})
	require.NoError(t, err)

	updated, created, err := repo.EnsureCustomer(ctx, &models.Customer{UserID: "u1", StripeCustomerID: "cus_1", Email: strPtr("a@example.com")})
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, updated.Email)
	assert.Equal(t, "a@example.com", *updated.Email)
}

func TestEnsureCustomerRequiresIdentifiers(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	_, _, err := repo.EnsureCustomer(context.Background(), &models.Customer{UserID: "u1"})
	require.Error(t, err)
}

func TestInsertSubscriptionIfAbsent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	inserted, err := repo.InsertSubscriptionIfAbsent(ctx, subscriptionRow(enums.SubscriptionStatusActive, t0))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertSubscriptionIfAbsent(ctx, subscriptionRow(enums.SubscriptionStatusPastDue, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.FindSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.SubscriptionStatusActive, stored.Status)
}

func TestUpsertSubscriptionCreatesWhenAbsent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	written, err := repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusTrialing, t0))
	require.NoError(t, err)
	assert.True(t, written)

	stored, err := repo.FindSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.SubscriptionStatusTrialing, stored.Status)
	assert.True(t, stored.LastEventAt.Equal(t0))
}

func TestUpsertSubscriptionIgnoresOlderEvents(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusActive, t0))
	require.NoError(t, err)

	written, err := repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusPastDue, t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.False(t, written, "older event must not overwrite a newer one")

	written, err = repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusPastDue, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, written)

	stored, err := repo.FindSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusPastDue, stored.Status)
}

func TestUpsertSubscriptionNeverOverwritesCanceled(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusActive, t0))
	require.NoError(t, err)

	canceled, err := repo.CancelSubscription(ctx, "sub_1", Cancellation{EventAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, canceled)

	written, err := repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusActive, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, written)

	stored, err := repo.FindSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, stored.Status)
}

func TestCancelSubscription(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	canceled, err := repo.CancelSubscription(ctx, "sub_missing", Cancellation{EventAt: t0})
	require.NoError(t, err)
	assert.False(t, canceled, "absent row is left alone")

	row := subscriptionRow(enums.SubscriptionStatusActive, t0)
	row.CancelAtPeriodEnd = true
	_, err = repo.UpsertSubscription(ctx, row)
	require.NoError(t, err)

	endedAt := t0.Add(2 * time.Minute)
	canceled, err = repo.CancelSubscription(ctx, "sub_1", Cancellation{EndedAt: &endedAt, EventAt: t0.Add(-time.Minute)})
	require.NoError(t, err)
	assert.True(t, canceled)

	stored, err := repo.FindSubscriptionByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, stored.Status)
	assert.False(t, stored.CancelAtPeriodEnd)
	require.NotNil(t, stored.EndedAt)
	assert.True(t, stored.EndedAt.Equal(endedAt))
	assert.True(t, stored.LastEventAt.Equal(t0), "last_event_at never moves backwards")

	canceled, err = repo.CancelSubscription(ctx, "sub_1", Cancellation{EventAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, canceled)
}

func TestFindCurrentSubscriptionPrefersEntitled(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	active := subscriptionRow(enums.SubscriptionStatusActive, t0)
	_, err := repo.UpsertSubscription(ctx, active)
	require.NoError(t, err)

	pastDue := subscriptionRow(enums.SubscriptionStatusPastDue, t0.Add(time.Hour))
	pastDue.StripeSubscriptionID = "sub_2"
	_, err = repo.UpsertSubscription(ctx, pastDue)
	require.NoError(t, err)

	current, err := repo.FindCurrentSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "sub_1", current.StripeSubscriptionID)

	none, err := repo.FindCurrentSubscription(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUpsertCatalogRespectsEventOrder(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	written, err := repo.UpsertProduct(ctx, &models.Product{ID: "prod_1", Active: true, Name: "Pro", LastEventAt: t0})
	require.NoError(t, err)
	assert.True(t, written)

	written, err = repo.UpsertProduct(ctx, &models.Product{ID: "prod_1", Active: false, Name: "Old", LastEventAt: t0.Add(-time.Minute)})
	require.NoError(t, err)
	assert.False(t, written)

	amount := int64(1999)
	written, err = repo.UpsertPrice(ctx, &models.Price{
		ID: "price_1", ProductID: "prod_1", Active: true, Currency: "usd",
		UnitAmount: &amount, Type: "recurring", Interval: strPtr("month"), LastEventAt: t0,
	})
	require.NoError(t, err)
	assert.True(t, written)

	written, err = repo.UpsertPrice(ctx, &models.Price{
		ID: "price_1", ProductID: "prod_1", Active: false, Currency: "usd", Type: "recurring", LastEventAt: t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, written)

	product, err := repo.FindProduct(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, "Pro", product.Name)
	assert.True(t, product.Active)

	price, err := repo.FindPrice(ctx, "price_1")
	require.NoError(t, err)
	assert.False(t, price.Active)

	missing, err := repo.FindPrice(ctx, "price_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
