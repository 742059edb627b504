package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/internal/usage"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
	"github.com/dissertia/dissertia-api/pkg/metrics"
)

type userReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type subscriptionReader interface {
	FindLiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

type planReader interface {
	GetPlan(ctx context.Context, planID string) (*models.BillingPlan, error)
}

type usageReader interface {
	Current(ctx context.Context, userID uuid.UUID, window usage.Window) (*models.UsagePeriod, error)
}

// Service answers whether a user may run an AI action right now.
type Service interface {
	Check(ctx context.Context, userID uuid.UUID) (*Decision, error)
}

type ServiceParams struct {
	Users         userReader
	Subscriptions subscriptionReader
	Plans         planReader
	Usage         usageReader
	FreePlanID    string
	WindowLength  time.Duration
	// FailOpen allows AI actions when usage state cannot be read.
	FailOpen bool
	Metrics  *metrics.UsageMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	users      userReader
	subs       subscriptionReader
	plans      planReader
	usage      usageReader
	freePlanID string
	length     time.Duration
	failOpen   bool
	metrics    *metrics.UsageMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user reader required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription reader required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan reader required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage reader required")
	}
	if params.FreePlanID == "" {
		return nil, fmt.Errorf("free plan id required")
	}
	length := params.WindowLength
	if length <= 0 {
		length = usage.DefaultWindowLength
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		users:      params.Users,
		subs:       params.Subscriptions,
		plans:      params.Plans,
		usage:      params.Usage,
		freePlanID: params.FreePlanID,
		length:     length,
		failOpen:   params.FailOpen,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        clock,
	}, nil
}

// Check loads the user's subscription, plan and current usage and evaluates
// them. Only dependency failures degrade to an allowing decision, and only
// when fail-open is enabled; an unknown user or a subscription pointing at a
// missing plan is returned as an error.
func (s *service) Check(ctx context.Context, userID uuid.UUID) (*Decision, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id is required")
	}
	now := s.now().UTC()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return s.degrade(ctx, userID, now, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user"))
	}

	sub, err := s.subs.FindLiveSubscription(ctx, userID)
	if err != nil {
		return s.degrade(ctx, userID, now, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription"))
	}

	freePlan, err := s.plans.GetPlan(ctx, s.freePlanID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "free plan missing from catalog")
		}
		return s.planFailure(ctx, userID, now, err)
	}

	var subPlan *models.BillingPlan
	if sub != nil && sub.Status.Entitles() {
		subPlan, err = s.plans.GetPlan(ctx, sub.PlanID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				if s.logg != nil {
					logCtx := s.logg.WithFields(ctx, map[string]any{
						"user_id":         userID.String(),
						"subscription_id": sub.ID.String(),
						"plan_id":         sub.PlanID,
					})
					s.logg.Error(logCtx, "subscription references unknown plan", err)
				}
				return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "subscription plan not found")
			}
			return s.planFailure(ctx, userID, now, err)
		}
	}

	window := usage.WindowFor(usage.AnchorFor(sub, user), now, s.length)
	current, err := s.usage.Current(ctx, userID, window)
	if err != nil {
		return s.degrade(ctx, userID, now, err)
	}

	decision := Evaluate(Input{
		Subscription:     sub,
		SubscriptionPlan: subPlan,
		FreePlan:         *freePlan,
		Usage:            current,
		Window:           window,
		Now:              now,
	})

	if decision.Clamped {
		s.metrics.IncClamped()
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"user_id":      userID.String(),
				"period_start": window.Start,
			})
			s.logg.Warn(logCtx, "negative usage counter clamped to zero")
		}
	}

	if decision.CanUseAI {
		s.metrics.IncDecision(metrics.DecisionAllowed)
	} else {
		s.metrics.IncDecision(metrics.DecisionBlocked)
	}
	return &decision, nil
}

// planFailure degrades on transient reads only. Anything else is a catalog
// problem that must not turn into an unlimited decision.
func (s *service) planFailure(ctx context.Context, userID uuid.UUID, now time.Time, err error) (*Decision, error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		return s.degrade(ctx, userID, now, err)
	}
	return nil, err
}

func (s *service) degrade(ctx context.Context, userID uuid.UUID, now time.Time, cause error) (*Decision, error) {
	if s.logg != nil {
		s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "entitlement check could not read usage state", cause)
	}
	if !s.failOpen {
		return nil, cause
	}
	s.metrics.IncDecision(metrics.DecisionDegraded)
	return &Decision{
		CanUseAI:        true,
		OperationsLimit: models.UnlimitedQuota,
		CostLimitCents:  models.UnlimitedQuota,
		Degraded:        true,
		PeriodStart:     now,
		PeriodEnd:       now,
	}, nil
}
