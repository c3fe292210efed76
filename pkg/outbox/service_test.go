package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/launchkit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
)

func TestEmitWritesEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, logger.Nop())

	aggregateID := uuid.New()
	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventSubscriptionChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   aggregateID,
		Actor:         &ActorRef{Source: "stripe", EventID: "evt_1"},
		Data:          map[string]string{"status": "active"},
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(nil, aggregateID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "evt_1", envelope.Actor.EventID)
	assert.JSONEq(t, `{"status":"active"}`, string(envelope.Data))
}

func TestEmitRejectsUnknownTypes(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.OutboxEventType("order_created"),
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)

	err = svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}

func TestPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	aggregateID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(context.Background(), db, DomainEvent{
			EventType:     enums.EventSubscriptionChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   aggregateID,
			Data:          map[string]int{"n": i},
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublishedTx(db, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(db, rows[1].ID, errors.New("topic unavailable")))
	require.NoError(t, repo.MarkTerminalTx(db, rows[2].ID, errors.New("bad payload"), 3))

	remaining, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[1].ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	assert.Equal(t, "topic unavailable", *remaining[0].LastError)
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	db := dbtest.Open(t)
	dlq := NewDLQRepository(db)

	long := make([]byte, maxDLQErrorLen+100)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	eventID := uuid.New()
	require.NoError(t, dlq.InsertTx(db, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventSubscriptionChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
	}))

	stored, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeletePublishedBeforeKeepsPendingRows(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Emit(context.Background(), db, DomainEvent{
			EventType:     enums.EventSubscriptionChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"n": i},
		}))
	}
	rows, err := repo.FetchUnpublishedForPublish(db, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NoError(t, repo.MarkPublishedTx(db, rows[0].ID))

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	remaining, err := repo.FetchUnpublishedForPublish(db, 10, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[1].ID, remaining[0].ID)
}
