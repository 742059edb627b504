package entitlements

import (
	"math"
	"time"

	"github.com/dissertia/dissertia-api/internal/usage"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

// Decision is the derived view of what a user may do right now. It is never stored.
type Decision struct {
	CanUseAI              bool      `json:"can_use_ai"`
	PercentageUsed        float64   `json:"percentage_used"`
	PeriodLabel           string    `json:"period_label"`
	DaysUntilReset        int       `json:"days_until_reset"`
	HasActiveSubscription bool      `json:"has_active_subscription"`
	PlanID                string    `json:"plan_id"`
	PlanName              string    `json:"plan_name"`
	OperationsUsed        int       `json:"operations_used"`
	OperationsLimit       int       `json:"operations_limit"`
	CostUsedCents         int64     `json:"cost_used_cents"`
	CostLimitCents        int64     `json:"cost_limit_cents"`
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
	CancelAtPeriodEnd     bool      `json:"cancel_at_period_end"`
	Degraded              bool      `json:"degraded,omitempty"`

	// Clamped is set when a stored counter was negative and read as zero.
	Clamped bool `json:"-"`
}

// Input gathers everything Evaluate needs. Subscription, SubscriptionPlan and
// Usage may be nil.
type Input struct {
	Subscription     *models.Subscription
	SubscriptionPlan *models.BillingPlan
	FreePlan         models.BillingPlan
	Usage            *models.UsagePeriod
	Window           usage.Window
	Now              time.Time
}

// Evaluate computes the entitlement decision. It performs no I/O.
func Evaluate(in Input) Decision {
	plan := effectivePlan(in)

	var used int
	var cost int64
	var clamped bool
	if in.Usage != nil {
		used = in.Usage.OperationCount
		cost = in.Usage.CostCents
	}
	if used < 0 {
		used = 0
		clamped = true
	}
	if cost < 0 {
		cost = 0
		clamped = true
	}

	d := Decision{
		PeriodLabel:     in.Window.Label(),
		DaysUntilReset:  in.Window.DaysUntilReset(in.Now),
		PlanID:          plan.ID,
		PlanName:        plan.Name,
		OperationsUsed:  used,
		OperationsLimit: plan.MaxOperationsPerMonth,
		CostUsedCents:   cost,
		CostLimitCents:  plan.MaxAICostPerMonth,
		PeriodStart:     in.Window.Start,
		PeriodEnd:       in.Window.End,
		Clamped:         clamped,
	}

	if in.Subscription != nil && in.Subscription.Status.Entitles() {
		d.CancelAtPeriodEnd = in.Subscription.CancelAtPeriodEnd
		d.HasActiveSubscription = plan.ID != in.FreePlan.ID
	}

	limit := plan.MaxOperationsPerMonth
	switch {
	case limit == models.UnlimitedQuota:
		d.CanUseAI = true
		d.PercentageUsed = 0
	case limit <= 0:
		d.CanUseAI = false
		d.PercentageUsed = 100
	default:
		d.CanUseAI = used < limit
		d.PercentageUsed = math.Min(100, 100*float64(used)/float64(limit))
	}
	return d
}

func effectivePlan(in Input) models.BillingPlan {
	if in.Subscription != nil && in.Subscription.Status.Entitles() && in.SubscriptionPlan != nil {
		return *in.SubscriptionPlan
	}
	return in.FreePlan
}

// QuotaExceeded builds the error returned when an AI action is refused.
func (d Decision) QuotaExceeded() error {
	return pkgerrors.New(pkgerrors.CodePaymentRequired, "AI quota exhausted for the current period").
		WithDetails(map[string]any{
			"plan_id":          d.PlanID,
			"operations_used":  d.OperationsUsed,
			"operations_limit": d.OperationsLimit,
			"period_label":     d.PeriodLabel,
			"days_until_reset": d.DaysUntilReset,
		})
}
