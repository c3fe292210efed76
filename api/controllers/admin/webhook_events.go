package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/launchkit-backend/api/responses"
	"github.com/angelmondragon/launchkit-backend/api/validators"
	stripewebhook "github.com/angelmondragon/launchkit-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/pagination"
)

// WebhookEventLister reads stored provider events for operator inspection.
type WebhookEventLister interface {
	ListPage(ctx context.Context, status enums.WebhookEventStatus, page pagination.Params) ([]models.WebhookEvent, string, error)
}

// WebhookReplayer re-dispatches a stored event from its recorded payload.
type WebhookReplayer interface {
	Replay(ctx context.Context, id string) (stripewebhook.AckStatus, error)
}

type webhookEventResponse struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	Livemode         bool       `json:"livemode"`
	Created          time.Time  `json:"created"`
	ProcessingStatus string     `json:"processing_status"`
	ProcessingResult *string    `json:"processing_result,omitempty"`
	Attempts         int        `json:"attempts"`
	LastError        *string    `json:"last_error,omitempty"`
	ReceivedAt       time.Time  `json:"received_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

type webhookEventListResponse struct {
	Events     []webhookEventResponse `json:"events"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type replayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// WebhookEventsList pages through stored events, optionally filtered by processing status.
func WebhookEventsList(events WebhookEventLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if events == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook event store unavailable"))
			return
		}

		var status enums.WebhookEventStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseWebhookEventStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			status = parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, next, err := events.ListPage(ctx, status, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list webhook events")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := webhookEventListResponse{
			Events:     make([]webhookEventResponse, 0, len(rows)),
			NextCursor: next,
		}
		for _, row := range rows {
			resp.Events = append(resp.Events, toWebhookEventResponse(row))
		}
		responses.WriteSuccess(w, resp)
	}
}

// WebhookEventReplay reprocesses one stored event.
func WebhookEventReplay(replayer WebhookReplayer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if replayer == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook replay unavailable"))
			return
		}

		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id is required"))
			return
		}

		status, err := replayer.Replay(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, replayResponse{ID: id, Status: string(status)})
	}
}

func toWebhookEventResponse(row models.WebhookEvent) webhookEventResponse {
	resp := webhookEventResponse{
		ID:               row.ID,
		Type:             row.Type,
		Livemode:         row.Livemode,
		Created:          row.Created,
		ProcessingStatus: string(row.ProcessingStatus),
		Attempts:         row.Attempts,
		LastError:        row.LastError,
		ReceivedAt:       row.ReceivedAt,
		ProcessedAt:      row.ProcessedAt,
	}
	if row.ProcessingResult != nil {
		result := string(*row.ProcessingResult)
		resp.ProcessingResult = &result
	}
	return resp
}
