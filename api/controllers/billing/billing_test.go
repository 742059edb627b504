package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dissertia/dissertia-api/api/middleware"
	billingsvc "github.com/dissertia/dissertia-api/internal/billing"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	"github.com/dissertia/dissertia-api/pkg/pagination"
)

type stubPlans struct {
	plans []models.BillingPlan
}

func (s *stubPlans) List(context.Context) ([]models.BillingPlan, error) {
	return s.plans, nil
}

func TestPublicPlansSkipsInactive(t *testing.T) {
	svc := &stubPlans{plans: []models.BillingPlan{
		{ID: "free", Name: "Gratuito", MonthlyPrice: decimal.Zero, YearlyPrice: decimal.Zero, Features: pq.StringArray{"a", "b"}, MaxOperationsPerMonth: 5, IsActive: true},
		{ID: "pro_monthly", Name: "Pro", MonthlyPrice: decimal.RequireFromString("29.9"), YearlyPrice: decimal.RequireFromString("358.8"), MaxOperationsPerMonth: models.UnlimitedQuota, IsActive: true},
		{ID: "legacy", Name: "Old", IsActive: false},
	}}

	rec := httptest.NewRecorder()
	PublicPlans(svc, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/public/plans", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data planListResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	plans := body.Data.Plans
	if len(plans) != 2 {
		t.Fatalf("expected 2 active plans, got %d", len(plans))
	}
	if plans[0].Features[1] != "b" || plans[0].Unlimited {
		t.Fatalf("unexpected free plan %+v", plans[0])
	}
	if plans[1].MonthlyPrice != "29.90" || !plans[1].Unlimited {
		t.Fatalf("unexpected pro plan %+v", plans[1])
	}
}

type stubTransactions struct {
	params pagination.Params
	user   uuid.UUID
	page   *billingsvc.TransactionPage
}

func (s *stubTransactions) ListTransactions(_ context.Context, userID uuid.UUID, params pagination.Params) (*billingsvc.TransactionPage, error) {
	s.user = userID
	s.params = params
	return s.page, nil
}

func TestTransactionsPaginates(t *testing.T) {
	userID := uuid.New()
	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: time.Now().UTC(), ID: uuid.New()})
	svc := &stubTransactions{page: &billingsvc.TransactionPage{
		Items: []models.Transaction{{
			ID:          uuid.New(),
			UserID:      userID,
			Type:        enums.TransactionTypeCharge,
			Status:      enums.TransactionStatusSucceeded,
			AmountCents: 2990,
			Currency:    "brl",
			OccurredAt:  time.Now().UTC(),
		}},
		NextCursor: "next",
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/transactions?limit=1&cursor="+cursor, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	Transactions(svc, nil)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.user != userID || svc.params.Limit != 1 || svc.params.Cursor != cursor {
		t.Fatalf("unexpected call user=%s params=%+v", svc.user, svc.params)
	}

	var body struct {
		Data transactionListResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.NextCursor != "next" || len(body.Data.Transactions) != 1 || body.Data.Transactions[0].Type != "charge" {
		t.Fatalf("unexpected body %+v", body.Data)
	}
}

func TestTransactionsRejectsBadCursor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/transactions?cursor=bad!", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.New()))
	rec := httptest.NewRecorder()
	Transactions(&stubTransactions{}, nil)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransactionsRequiresSession(t *testing.T) {
	rec := httptest.NewRecorder()
	Transactions(&stubTransactions{}, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/billing/transactions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
