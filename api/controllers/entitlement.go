package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/api/middleware"
	"github.com/dissertia/dissertia-api/api/responses"
	"github.com/dissertia/dissertia-api/api/validators"
	"github.com/dissertia/dissertia-api/internal/entitlements"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

const (
	defaultHistoryLimit = 12
	maxHistoryLimit     = 36
)

type entitlementChecker interface {
	Check(ctx context.Context, userID uuid.UUID) (*entitlements.Decision, error)
}

type usageHistoryReader interface {
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsagePeriod, error)
}

type usagePeriodResponse struct {
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	OperationCount int       `json:"operation_count"`
	CostCents      int64     `json:"cost_cents"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
}

type usageHistoryResponse struct {
	Periods []usagePeriodResponse `json:"periods"`
}

// Entitlement returns the session user's current decision.
func Entitlement(svc entitlementChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		decision, err := svc.Check(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, decision)
	}
}

func UsageHistory(svc usageHistoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		periods, err := svc.History(ctx, userID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		resp := usageHistoryResponse{Periods: make([]usagePeriodResponse, 0, len(periods))}
		for _, p := range periods {
			resp.Periods = append(resp.Periods, usagePeriodResponse{
				PeriodStart:    p.PeriodStart,
				PeriodEnd:      p.PeriodEnd,
				OperationCount: max(p.OperationCount, 0),
				CostCents:      max(p.CostCents, 0),
				InputTokens:    p.InputTokens,
				OutputTokens:   p.OutputTokens,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}
