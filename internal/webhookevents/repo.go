package webhookevents

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/pagination"
)

const (
	maxLastErrorLen  = 1024
	defaultListLimit = 50
	maxListLimit     = 500
)

// Repository is the durable record of provider events. Rows are never deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// RecordIfNew inserts the event unless its id is already stored. Exactly one concurrent
	// caller observes inserted == true, and that caller holds the processing lease.
	RecordIfNew(ctx context.Context, event *models.WebhookEvent) (bool, error)
	Get(ctx context.Context, id string) (*models.WebhookEvent, error)
	// Claim takes the lease on a pending event whose previous lease started before staleBefore.
	Claim(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	// ClaimForReplay takes the lease on a settled event, or a pending one with a stale lease.
	ClaimForReplay(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	MarkProcessed(ctx context.Context, id string, result enums.WebhookEventResult) error
	MarkFailed(ctx context.Context, id string, result enums.WebhookEventResult, cause string) error
	// Release gives the lease back after a transient failure so the next delivery can retry.
	Release(ctx context.Context, id string, cause string) error
	ListByStatus(ctx context.Context, status enums.WebhookEventStatus, limit int) ([]models.WebhookEvent, error)
	// ListPage walks events oldest first by (received_at, id) and returns the cursor of the
	// next page, or "" on the last one.
	ListPage(ctx context.Context, status enums.WebhookEventStatus, page pagination.Params) ([]models.WebhookEvent, string, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a webhook event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) RecordIfNew(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event == nil || strings.TrimSpace(event.ID) == "" {
		return false, errors.New("webhook event id is required")
	}
	now := r.now()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.ProcessingStatus = enums.WebhookEventPending
	event.ProcessingResult = nil
	event.Attempts = 1
	event.ClaimedAt = &now

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Get(ctx context.Context, id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) Claim(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Where("processing_status = ?", enums.WebhookEventPending).
		Where("(claimed_at IS NULL OR claimed_at < ?)", staleBefore.UTC()).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": r.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ClaimForReplay(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Where("(processing_status <> ? OR claimed_at IS NULL OR claimed_at < ?)", enums.WebhookEventPending, staleBefore.UTC()).
		Updates(map[string]any{
			"processing_status": enums.WebhookEventPending,
			"processing_result": nil,
			"attempts":          gorm.Expr("attempts + 1"),
			"claimed_at":        r.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id string, result enums.WebhookEventResult) error {
	return r.settle(ctx, id, enums.WebhookEventProcessed, result, nil)
}

func (r *repository) MarkFailed(ctx context.Context, id string, result enums.WebhookEventResult, cause string) error {
	msg := truncate(cause)
	return r.settle(ctx, id, enums.WebhookEventFailed, result, &msg)
}

func (r *repository) settle(ctx context.Context, id string, status enums.WebhookEventStatus, result enums.WebhookEventResult, lastError *string) error {
	if !result.IsValid() {
		return errors.New("invalid webhook event result " + string(result))
	}
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": status,
			"processing_result": result,
			"last_error":        lastError,
			"processed_at":      r.now(),
			"claimed_at":        nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) Release(ctx context.Context, id string, cause string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Where("processing_status = ?", enums.WebhookEventPending).
		Updates(map[string]any{
			"last_error": truncate(cause),
			"claimed_at": nil,
		}).Error
}

func (r *repository) ListByStatus(ctx context.Context, status enums.WebhookEventStatus, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := r.db.WithContext(ctx).Model(&models.WebhookEvent{})
	if status != "" {
		query = query.Where("processing_status = ?", status)
	}
	var events []models.WebhookEvent
	if err := query.
		Order("received_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListPage(ctx context.Context, status enums.WebhookEventStatus, page pagination.Params) ([]models.WebhookEvent, string, error) {
	cursor, err := pagination.ParseCursor(page.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query := r.db.WithContext(ctx).Model(&models.WebhookEvent{})
	if status != "" {
		query = query.Where("processing_status = ?", status)
	}
	if cursor != nil {
		at := cursor.At.UTC()
		query = query.Where("(received_at > ? OR (received_at = ? AND id > ?))", at, at, cursor.ID)
	}
	var events []models.WebhookEvent
	if err := query.
		Order("received_at ASC").
		Order("id ASC").
		Limit(pagination.LimitWithBuffer(page.Limit)).
		Find(&events).Error; err != nil {
		return nil, "", err
	}
	events, next := pagination.Page(events, page.Limit, func(e models.WebhookEvent) pagination.Cursor {
		return pagination.Cursor{At: e.ReceivedAt, ID: e.ID}
	})
	return events, next, nil
}

func truncate(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	return message[:maxLastErrorLen]
}
