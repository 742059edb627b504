package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/api/middleware"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

type stubService struct {
	sub        *models.Subscription
	err        error
	cancelWith string
}

func (s *stubService) Get(context.Context, uuid.UUID) (*models.Subscription, error) {
	return s.sub, s.err
}

func (s *stubService) Cancel(_ context.Context, _ uuid.UUID, reason string) (*models.Subscription, error) {
	s.cancelWith = reason
	if s.err != nil {
		return nil, s.err
	}
	s.sub.CancelAtPeriodEnd = true
	return s.sub, nil
}

func (s *stubService) Reactivate(context.Context, uuid.UUID) (*models.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sub.CancelAtPeriodEnd = false
	return s.sub, nil
}

type stubHistory struct {
	events []models.SubscriptionEvent
	gotSub uuid.UUID
}

func (s *stubHistory) SubscriptionHistory(_ context.Context, _, subID uuid.UUID) ([]models.SubscriptionEvent, error) {
	s.gotSub = subID
	return s.events, nil
}

func activeSub() *models.Subscription {
	now := time.Now().UTC()
	return &models.Subscription{
		ID:              uuid.New(),
		PlanID:          "pro_monthly",
		Status:          enums.SubscriptionStatusActive,
		BillingCycle:    enums.BillingCycleMonthly,
		StartDate:       now,
		NextBillingDate: now.AddDate(0, 0, 30),
	}
}

func request(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.WithUserID(req.Context(), uuid.New()))
}

func decodeSubscription(t *testing.T, rec *httptest.ResponseRecorder) *subscriptionResponse {
	t.Helper()
	var body struct {
		Data subscriptionEnvelope `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Data.Subscription
}

func TestFetchWithoutSubscription(t *testing.T) {
	rec := httptest.NewRecorder()
	Fetch(&stubService{}, nil)(rec, request(http.MethodGet, "/api/v1/subscription", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if decodeSubscription(t, rec) != nil {
		t.Fatal("expected null subscription")
	}
}

func TestCancelPassesReason(t *testing.T) {
	svc := &stubService{sub: activeSub()}
	rec := httptest.NewRecorder()
	Cancel(svc, nil)(rec, request(http.MethodPost, "/api/v1/subscription/cancel", `{"reason":"  muito caro  "}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.cancelWith != "muito caro" {
		t.Fatalf("unexpected reason %q", svc.cancelWith)
	}
	got := decodeSubscription(t, rec)
	if got == nil || !got.CancelAtPeriodEnd || got.Status != "active" {
		t.Fatalf("unexpected subscription %+v", got)
	}
}

func TestCancelWithoutBody(t *testing.T) {
	svc := &stubService{sub: activeSub()}
	rec := httptest.NewRecorder()
	Cancel(svc, nil)(rec, request(http.MethodPost, "/api/v1/subscription/cancel", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCancelInvalidTransition(t *testing.T) {
	svc := &stubService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is cancelled")}
	rec := httptest.NewRecorder()
	Cancel(svc, nil)(rec, request(http.MethodPost, "/api/v1/subscription/cancel", `{}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestReactivateNotFound(t *testing.T) {
	svc := &stubService{err: pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")}
	rec := httptest.NewRecorder()
	Reactivate(svc, nil)(rec, request(http.MethodPost, "/api/v1/subscription/reactivate", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReactivateClearsFlag(t *testing.T) {
	sub := activeSub()
	sub.CancelAtPeriodEnd = true
	rec := httptest.NewRecorder()
	Reactivate(&stubService{sub: sub}, nil)(rec, request(http.MethodPost, "/api/v1/subscription/reactivate", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if decodeSubscription(t, rec).CancelAtPeriodEnd {
		t.Fatal("expected flag cleared")
	}
}

func TestHistoryListsCurrentSubscriptionEvents(t *testing.T) {
	sub := activeSub()
	reason := "muito caro"
	history := &stubHistory{events: []models.SubscriptionEvent{
		{Type: enums.SubscriptionEventTypeCreated, Actor: enums.EventActorWebhook},
		{Type: enums.SubscriptionEventTypeCancelRequested, Actor: enums.EventActorUser, Reason: &reason},
	}}

	rec := httptest.NewRecorder()
	History(&stubService{sub: sub}, history, nil)(rec, request(http.MethodGet, "/api/v1/subscription/history", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if history.gotSub != sub.ID {
		t.Fatalf("expected history for %s, got %s", sub.ID, history.gotSub)
	}
	var body struct {
		Data historyResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Events) != 2 || body.Data.Events[1].Type != "cancel_requested" {
		t.Fatalf("unexpected events %+v", body.Data.Events)
	}
}

func TestRequiresSession(t *testing.T) {
	rec := httptest.NewRecorder()
	Fetch(&stubService{}, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
