package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/launchkit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
)

func TestCurrentSubscriptionJoinsCatalog(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusActive, t0))
	require.NoError(t, err)
	_, err = repo.UpsertProduct(ctx, &models.Product{ID: "prod_1", Active: true, Name: "Pro", LastEventAt: t0})
	require.NoError(t, err)
	amount := int64(1999)
	_, err = repo.UpsertPrice(ctx, &models.Price{
		ID: "price_1", ProductID: "prod_1", Active: true, Currency: "usd", UnitAmount: &amount,
		Type: "recurring", Interval: strPtr("month"), Nickname: strPtr("Pro monthly"), LastEventAt: t0,
	})
	require.NoError(t, err)

	summary, err := svc.CurrentSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", summary.SubscriptionID)
	assert.True(t, summary.Entitled)
	require.NotNil(t, summary.Amount)
	assert.Equal(t, "19.99 USD", *summary.Amount)
	require.NotNil(t, summary.ProductName)
	assert.Equal(t, "Pro", *summary.ProductName)
	require.NotNil(t, summary.Plan)
	assert.Equal(t, "Pro monthly", *summary.Plan)
	assert.Equal(t, "month", *summary.Interval)
}

func TestCurrentSubscriptionWithoutCatalog(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, _ := NewService(repo)
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, subscriptionRow(enums.SubscriptionStatusPastDue, t0))
	require.NoError(t, err)

	summary, err := svc.CurrentSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, summary.Entitled)
	assert.Nil(t, summary.Amount)
}

func TestCurrentSubscriptionErrors(t *testing.T) {
	svc, _ := NewService(NewRepository(dbtest.Open(t)))

	_, err := svc.CurrentSubscription(context.Background(), " ")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.CurrentSubscription(context.Background(), "nobody")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
