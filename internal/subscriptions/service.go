package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/internal/billing"
	"github.com/dissertia/dissertia-api/pkg/db"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

const (
	maxReasonLength     = 500
	defaultRolloverSize = 250
	liveSubscriptionIdx = "ux_subscriptions_live_user"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the subscription lifecycle surface.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, userID uuid.UUID, reason string) (*models.Subscription, error)
	Reactivate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Create(ctx context.Context, input CreateInput) (*models.Subscription, bool, error)
	SyncFromStripe(ctx context.Context, snap *StripeSnapshot) (*models.Subscription, error)
	RollOver(ctx context.Context, now time.Time, limit int) (*RolloverResult, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	TransactionRunner txRunner
	// StripeClient is optional; when nil cancellations stay local.
	StripeClient StripeSubscriptionClient
	Prices       PriceCatalog
	Logger       *logger.Logger
	Clock        func() time.Time
}

// CreateInput captures the data required to start a subscription.
type CreateInput struct {
	UserID               uuid.UUID
	PlanID               string
	BillingCycle         enums.BillingCycle
	Status               enums.SubscriptionStatus
	StartDate            time.Time
	NextBillingDate      time.Time
	StripeSubscriptionID string
	StripeCustomerID     string
	Actor                enums.EventActor
}

// RolloverResult summarises one pass over due subscriptions.
type RolloverResult struct {
	Scanned   int
	Renewed   int
	Cancelled int
	Expired   int
	Failed    int
}

type service struct {
	billingRepo billing.Repository
	txRunner    txRunner
	stripe      StripeSubscriptionClient
	prices      PriceCatalog
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		billingRepo: params.BillingRepo,
		txRunner:    params.TransactionRunner,
		stripe:      params.StripeClient,
		prices:      params.Prices,
		logg:        params.Logger,
		now:         clock,
	}, nil
}

// Get returns the user's most recent subscription, or nil when they never had one.
func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.billingRepo.FindLatestSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}

// Cancel schedules the live subscription to end at its period boundary.
// Repeating the request returns the current state unchanged.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID, reason string) (*models.Subscription, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}
	return s.mutateLive(ctx, userID, func(sub *models.Subscription) (enums.SubscriptionEventType, error) {
		changed, err := requestCancel(sub)
		if err != nil || !changed {
			return "", err
		}
		return enums.SubscriptionEventTypeCancelRequested, nil
	}, reason)
}

// Reactivate clears a pending cancellation.
func (s *service) Reactivate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.mutateLive(ctx, userID, func(sub *models.Subscription) (enums.SubscriptionEventType, error) {
		if err := reactivate(sub); err != nil {
			return "", err
		}
		return enums.SubscriptionEventTypeReactivated, nil
	}, "")
}

// mutateLive applies a user-initiated transition. The transition is checked
// against a copy first so Stripe only sees requests that will be persisted,
// then re-applied to a fresh row inside the transaction.
func (s *service) mutateLive(ctx context.Context, userID uuid.UUID, apply func(*models.Subscription) (enums.SubscriptionEventType, error), reason string) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	current, err := s.findCurrent(ctx, s.billingRepo, userID)
	if err != nil {
		return nil, err
	}

	preview := *current
	eventType, err := apply(&preview)
	if err != nil {
		return nil, err
	}
	if eventType == "" {
		return current, nil
	}

	if s.stripe != nil && current.StripeSubscriptionID != nil {
		if _, err := s.stripe.SetCancelAtPeriodEnd(ctx, *current.StripeSubscriptionID, preview.CancelAtPeriodEnd); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stripe subscription")
		}
	}

	var updated *models.Subscription
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.billingRepo.WithTx(tx)
		stored, err := txRepo.FindSubscriptionByID(ctx, current.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		eventType, err := apply(stored)
		if err != nil {
			return err
		}
		updated = stored
		if eventType == "" {
			return nil
		}
		if err := txRepo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}
		return appendEvent(ctx, txRepo, stored, eventType, enums.EventActorUser, reason)
	})
	if err != nil {
		return nil, asTyped(err, "persist subscription change")
	}

	s.logInfo(ctx, updated, "subscription "+string(eventType))
	return updated, nil
}

func (s *service) findCurrent(ctx context.Context, repo billing.Repository, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := repo.FindLiveSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		sub, err = repo.FindLatestSubscription(ctx, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// Create starts a subscription unless the user already has a live one, in
// which case the existing row is returned with created=false.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, bool, error) {
	if input.UserID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	planID := strings.TrimSpace(input.PlanID)
	if planID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	cycle := input.BillingCycle
	if cycle == "" {
		cycle = enums.BillingCycleMonthly
	}
	if !cycle.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing cycle")
	}
	status := input.Status
	if status == "" {
		status = enums.SubscriptionStatusActive
	}
	if !status.Entitles() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "new subscriptions must be active or trial")
	}
	actor := input.Actor
	if actor == "" {
		actor = enums.EventActorSystem
	}

	start := input.StartDate
	if start.IsZero() {
		start = s.now()
	}
	start = start.UTC().Truncate(time.Second)
	next := input.NextBillingDate
	if next.IsZero() || !next.After(start) {
		next = start.Add(cycle.Period())
	}

	sub := &models.Subscription{
		UserID:               input.UserID,
		PlanID:               planID,
		Status:               status,
		BillingCycle:         cycle,
		StartDate:            start,
		NextBillingDate:      next.UTC().Truncate(time.Second),
		StripeSubscriptionID: trimmedPtr(input.StripeSubscriptionID),
		StripeCustomerID:     trimmedPtr(input.StripeCustomerID),
	}

	var existing *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.billingRepo.WithTx(tx)
		live, err := txRepo.FindLiveSubscription(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load live subscription")
		}
		if live != nil {
			existing = live
			return nil
		}
		if err := txRepo.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		return appendEvent(ctx, txRepo, sub, enums.SubscriptionEventTypeCreated, actor, "")
	})
	if err != nil {
		if db.IsUniqueViolation(err, liveSubscriptionIdx) {
			live, findErr := s.billingRepo.FindLiveSubscription(ctx, input.UserID)
			if findErr == nil && live != nil {
				return live, false, nil
			}
		}
		return nil, false, asTyped(err, "persist subscription")
	}
	if existing != nil {
		return existing, false, nil
	}

	s.logInfo(ctx, sub, "subscription created")
	return sub, true, nil
}

// SyncFromStripe reconciles a local subscription with the processor's view.
// Unknown subscriptions are created; known ones have status, cancellation
// flag, plan and billing date updated with matching audit events.
func (s *service) SyncFromStripe(ctx context.Context, snap *StripeSnapshot) (*models.Subscription, error) {
	if snap == nil || strings.TrimSpace(snap.SubscriptionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription is required")
	}

	existing, err := s.billingRepo.FindSubscriptionByStripeID(ctx, snap.SubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if existing == nil {
		if !snap.Status.Entitles() {
			return nil, nil
		}
		if snap.UserID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription is missing user_id metadata")
		}
		planID, cycle, ok := s.prices.Resolve(snap.PriceID)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe price does not map to a plan").
				WithDetails(map[string]any{"price_id": snap.PriceID})
		}
		sub, _, err := s.Create(ctx, CreateInput{
			UserID:               snap.UserID,
			PlanID:               planID,
			BillingCycle:         cycle,
			Status:               snap.Status,
			StartDate:            snap.StartDate,
			NextBillingDate:      snap.PeriodEnd,
			StripeSubscriptionID: snap.SubscriptionID,
			StripeCustomerID:     snap.CustomerID,
			Actor:                enums.EventActorWebhook,
		})
		return sub, err
	}

	var updated *models.Subscription
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.billingRepo.WithTx(tx)
		stored, err := txRepo.FindSubscriptionByID(ctx, existing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		events := s.applySnapshot(stored, snap)
		updated = stored
		if len(events) == 0 {
			return nil
		}
		if err := txRepo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}
		for _, eventType := range events {
			if err := appendEvent(ctx, txRepo, stored, eventType, enums.EventActorWebhook, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, asTyped(err, "sync subscription")
	}
	return updated, nil
}

func (s *service) applySnapshot(sub *models.Subscription, snap *StripeSnapshot) []enums.SubscriptionEventType {
	var events []enums.SubscriptionEventType

	if planID, cycle, ok := s.prices.Resolve(snap.PriceID); ok && (planID != sub.PlanID || cycle != sub.BillingCycle) {
		sub.PlanID = planID
		sub.BillingCycle = cycle
		events = append(events, enums.SubscriptionEventTypePlanChanged)
	}

	if snap.Status != sub.Status && !isTerminal(sub.Status) {
		sub.Status = snap.Status
		switch snap.Status {
		case enums.SubscriptionStatusCancelled:
			now := s.now().UTC()
			sub.CancelledAt = &now
			sub.CancelAtPeriodEnd = false
			events = append(events, enums.SubscriptionEventTypeCancelled)
		case enums.SubscriptionStatusExpired:
			events = append(events, enums.SubscriptionEventTypeExpired)
		default:
			events = append(events, enums.SubscriptionEventTypeRenewed)
		}
	}

	if sub.Status == enums.SubscriptionStatusActive && snap.CancelAtPeriodEnd != sub.CancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
		if snap.CancelAtPeriodEnd {
			events = append(events, enums.SubscriptionEventTypeCancelRequested)
		} else {
			events = append(events, enums.SubscriptionEventTypeReactivated)
		}
	}

	if !snap.PeriodEnd.IsZero() && snap.PeriodEnd.After(sub.NextBillingDate) && !isTerminal(sub.Status) {
		sub.NextBillingDate = snap.PeriodEnd.UTC().Truncate(time.Second)
		if len(events) == 0 {
			events = append(events, enums.SubscriptionEventTypeRenewed)
		}
	}
	return events
}

// RollOver processes subscriptions whose billing date has passed. Each row
// commits on its own; failures are collected and returned together.
func (s *service) RollOver(ctx context.Context, now time.Time, limit int) (*RolloverResult, error) {
	if limit <= 0 {
		limit = defaultRolloverSize
	}
	now = now.UTC()
	due, err := s.billingRepo.ListDueSubscriptions(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}

	result := &RolloverResult{Scanned: len(due)}
	var errs error
	for i := range due {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		eventType, err := s.rollOne(ctx, due[i].ID, now)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", due[i].ID, err))
			continue
		}
		switch eventType {
		case enums.SubscriptionEventTypeRenewed:
			result.Renewed++
		case enums.SubscriptionEventTypeCancelled:
			result.Cancelled++
		case enums.SubscriptionEventTypeExpired:
			result.Expired++
		}
	}
	return result, errs
}

func (s *service) rollOne(ctx context.Context, id uuid.UUID, now time.Time) (enums.SubscriptionEventType, error) {
	var eventType enums.SubscriptionEventType
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.billingRepo.WithTx(tx)
		sub, err := txRepo.FindSubscriptionByID(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return nil
		}
		eventType = rollOver(sub, now)
		if eventType == "" {
			return nil
		}
		if err := txRepo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		return appendEvent(ctx, txRepo, sub, eventType, enums.EventActorSystem, "")
	})
	return eventType, err
}

func appendEvent(ctx context.Context, repo billing.Repository, sub *models.Subscription, eventType enums.SubscriptionEventType, actor enums.EventActor, reason string) error {
	event := &models.SubscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Type:           eventType,
		Actor:          actor,
		Reason:         trimmedPtr(reason),
	}
	if err := repo.AppendEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append subscription event")
	}
	return nil
}

func (s *service) logInfo(ctx context.Context, sub *models.Subscription, msg string) {
	if s.logg == nil || sub == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":         sub.UserID.String(),
		"subscription_id": sub.ID.String(),
		"status":          sub.Status.String(),
	})
	s.logg.Info(logCtx, msg)
}

func asTyped(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func isTerminal(status enums.SubscriptionStatus) bool {
	return status == enums.SubscriptionStatusCancelled || status == enums.SubscriptionStatusExpired
}

func trimmedPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
