package billing

import (
	"context"
	"net/http"

	"github.com/dissertia/dissertia-api/api/responses"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

// PlanLister is the catalog surface used by the public plans endpoint.
type PlanLister interface {
	List(ctx context.Context) ([]models.BillingPlan, error)
}

type planResponse struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	MonthlyPrice          string   `json:"monthly_price"`
	YearlyPrice           string   `json:"yearly_price"`
	CurrencyCode          string   `json:"currency_code"`
	Features              []string `json:"features"`
	MaxOperationsPerMonth int      `json:"max_operations_per_month"`
	Unlimited             bool     `json:"unlimited"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

// PublicPlans lists the active catalog in display order.
func PublicPlans(svc PlanLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		plans, err := svc.List(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		resp := planListResponse{Plans: make([]planResponse, 0, len(plans))}
		for _, plan := range plans {
			if !plan.IsActive {
				continue
			}
			resp.Plans = append(resp.Plans, planToResponse(plan))
		}
		responses.WriteSuccess(w, resp)
	}
}

func planToResponse(plan models.BillingPlan) planResponse {
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)
	return planResponse{
		ID:                    plan.ID,
		Name:                  plan.Name,
		Description:           plan.Description,
		MonthlyPrice:          plan.MonthlyPrice.StringFixed(2),
		YearlyPrice:           plan.YearlyPrice.StringFixed(2),
		CurrencyCode:          plan.CurrencyCode,
		Features:              features,
		MaxOperationsPerMonth: plan.MaxOperationsPerMonth,
		Unlimited:             plan.UnlimitedOperations(),
	}
}
