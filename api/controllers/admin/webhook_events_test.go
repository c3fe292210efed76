package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	stripewebhook "github.com/angelmondragon/launchkit-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/pagination"
)

type stubLister struct {
	rows   []models.WebhookEvent
	next   string
	err    error
	status enums.WebhookEventStatus
	page   pagination.Params
}

func (s *stubLister) ListPage(_ context.Context, status enums.WebhookEventStatus, page pagination.Params) ([]models.WebhookEvent, string, error) {
	s.status = status
	s.page = page
	return s.rows, s.next, s.err
}

type stubReplayer struct {
	status stripewebhook.AckStatus
	err    error
	id     string
}

func (s *stubReplayer) Replay(_ context.Context, id string) (stripewebhook.AckStatus, error) {
	s.id = id
	return s.status, s.err
}

func TestWebhookEventsListFiltersByStatus(t *testing.T) {
	result := enums.WebhookResultMalformed
	lastErr := "missing userId"
	lister := &stubLister{rows: []models.WebhookEvent{{
		ID:               "evt_1",
		Type:             "customer.subscription.updated",
		ProcessingStatus: enums.WebhookEventFailed,
		ProcessingResult: &result,
		Attempts:         1,
		LastError:        &lastErr,
		ReceivedAt:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}}, next: "next-page"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook-events?status=failed&limit=10&cursor=abc", nil)
	rec := httptest.NewRecorder()
	WebhookEventsList(lister, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if lister.status != enums.WebhookEventFailed || lister.page.Limit != 10 || lister.page.Cursor != "abc" {
		t.Fatalf("unexpected filter status=%q page=%+v", lister.status, lister.page)
	}

	var body struct {
		Data webhookEventListResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.NextCursor != "next-page" {
		t.Fatalf("expected next cursor, got %q", body.Data.NextCursor)
	}
	if len(body.Data.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(body.Data.Events))
	}
	got := body.Data.Events[0]
	if got.ID != "evt_1" || got.ProcessingStatus != "failed" || got.LastError == nil || *got.LastError != lastErr {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.ProcessingResult == nil || *got.ProcessingResult != string(result) {
		t.Fatalf("unexpected result %+v", got.ProcessingResult)
	}
}

func TestWebhookEventsListRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook-events?status=stuck", nil)
	rec := httptest.NewRecorder()
	WebhookEventsList(&stubLister{}, nil)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookEventsListRejectsLimitOutOfRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook-events?limit=0", nil)
	rec := httptest.NewRecorder()
	WebhookEventsList(&stubLister{}, nil)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookEventsListBadCursorIs400(t *testing.T) {
	lister := &stubLister{err: pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook-events?cursor=%25%25", nil)
	rec := httptest.NewRecorder()
	WebhookEventsList(lister, nil)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func replayRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhook-events/"+id+"/replay", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestWebhookEventReplay(t *testing.T) {
	replayer := &stubReplayer{status: stripewebhook.AckProcessed}
	rec := httptest.NewRecorder()
	WebhookEventReplay(replayer, nil)(rec, replayRequest("evt_9"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if replayer.id != "evt_9" {
		t.Fatalf("expected replay of evt_9, got %q", replayer.id)
	}
}

func TestWebhookEventReplayMapsErrors(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeNotFound:  http.StatusNotFound,
		pkgerrors.CodeConflict:  http.StatusConflict,
		pkgerrors.CodeTransient: http.StatusInternalServerError,
	}
	for code, want := range cases {
		replayer := &stubReplayer{err: pkgerrors.New(code, "replay failed")}
		rec := httptest.NewRecorder()
		WebhookEventReplay(replayer, nil)(rec, replayRequest("evt_1"))
		if rec.Code != want {
			t.Fatalf("code %s: expected %d, got %d", code, want, rec.Code)
		}
	}
}
