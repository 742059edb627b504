package plans

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dissertia/dissertia-api/pkg/db/models"
)

const (
	PlanFree       = "free"
	PlanProMonthly = "pro_monthly"
	PlanProYearly  = "pro_yearly"
)

// DefaultCatalog is the built-in plan set written on first boot.
func DefaultCatalog() []models.BillingPlan {
	return []models.BillingPlan{
		{
			ID:           PlanFree,
			Name:         "Gratuito",
			Description:  "Para conhecer a plataforma",
			MonthlyPrice: decimal.Zero,
			YearlyPrice:  decimal.Zero,
			CurrencyCode: "BRL",
			Features: pq.StringArray{
				"5 correções com IA por mês",
				"Banco de temas",
				"Estruturas de redação",
			},
			MaxOperationsPerMonth: 5,
			MaxAICostPerMonth:     200,
			IsActive:              true,
			SortOrder:             0,
		},
		{
			ID:           PlanProMonthly,
			Name:         "Pro Mensal",
			Description:  "Correções ilimitadas, cobrança mensal",
			MonthlyPrice: decimal.RequireFromString("29.90"),
			YearlyPrice:  decimal.RequireFromString("358.80"),
			CurrencyCode: "BRL",
			Features: pq.StringArray{
				"Correções com IA ilimitadas",
				"Feedback por competência",
				"Histórico completo de redações",
				"Exportação em PDF",
			},
			MaxOperationsPerMonth: models.UnlimitedQuota,
			MaxAICostPerMonth:     models.UnlimitedQuota,
			IsActive:              true,
			SortOrder:             1,
		},
		{
			ID:           PlanProYearly,
			Name:         "Pro Anual",
			Description:  "Correções ilimitadas com desconto anual",
			MonthlyPrice: decimal.RequireFromString("24.92"),
			YearlyPrice:  decimal.RequireFromString("299.00"),
			CurrencyCode: "BRL",
			Features: pq.StringArray{
				"Correções com IA ilimitadas",
				"Feedback por competência",
				"Histórico completo de redações",
				"Exportação em PDF",
				"2 meses grátis",
			},
			MaxOperationsPerMonth: models.UnlimitedQuota,
			MaxAICostPerMonth:     models.UnlimitedQuota,
			IsActive:              true,
			SortOrder:             2,
		},
	}
}

// ValidatePlan checks a catalog entry before it is persisted.
func ValidatePlan(plan models.BillingPlan) error {
	if strings.TrimSpace(plan.ID) == "" {
		return fmt.Errorf("plan id is required")
	}
	if strings.TrimSpace(plan.Name) == "" {
		return fmt.Errorf("plan %s: name is required", plan.ID)
	}
	if plan.MaxOperationsPerMonth < models.UnlimitedQuota {
		return fmt.Errorf("plan %s: operations cap must be >= -1", plan.ID)
	}
	if plan.MaxAICostPerMonth < models.UnlimitedQuota {
		return fmt.Errorf("plan %s: cost cap must be >= -1", plan.ID)
	}
	if plan.MonthlyPrice.IsNegative() || plan.YearlyPrice.IsNegative() {
		return fmt.Errorf("plan %s: prices must not be negative", plan.ID)
	}
	for i, feature := range plan.Features {
		if strings.TrimSpace(feature) == "" {
			return fmt.Errorf("plan %s: feature %d is blank", plan.ID, i)
		}
	}
	return nil
}
