package subscriptions

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/api/middleware"
	"github.com/dissertia/dissertia-api/api/responses"
	"github.com/dissertia/dissertia-api/api/validators"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

const maxReasonRunes = 500

// Service is the subscription surface exposed over HTTP.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, userID uuid.UUID, reason string) (*models.Subscription, error)
	Reactivate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// HistoryReader returns the audit trail of one subscription.
type HistoryReader interface {
	SubscriptionHistory(ctx context.Context, userID, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type subscriptionResponse struct {
	ID                uuid.UUID  `json:"id"`
	PlanID            string     `json:"plan_id"`
	Status            string     `json:"status"`
	BillingCycle      string     `json:"billing_cycle"`
	StartDate         time.Time  `json:"start_date"`
	NextBillingDate   time.Time  `json:"next_billing_date"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

type subscriptionEnvelope struct {
	Subscription *subscriptionResponse `json:"subscription"`
}

type eventResponse struct {
	Type      string    `json:"type"`
	Actor     string    `json:"actor"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	Events []eventResponse `json:"events"`
}

// Fetch returns the latest subscription, or a null subscription for users
// who never subscribed.
func Fetch(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Get(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionEnvelope{Subscription: toResponse(sub)})
	}
}

func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		sub, err := svc.Cancel(ctx, userID, validators.SanitizeString(payload.Reason, maxReasonRunes))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionEnvelope{Subscription: toResponse(sub)})
	}
}

func Reactivate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Reactivate(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionEnvelope{Subscription: toResponse(sub)})
	}
}

// History lists the events of the user's current subscription.
func History(svc Service, history HistoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || history == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Get(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		resp := historyResponse{Events: []eventResponse{}}
		if sub == nil {
			responses.WriteSuccess(w, resp)
			return
		}
		events, err := history.SubscriptionHistory(ctx, userID, sub.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		for _, ev := range events {
			resp.Events = append(resp.Events, eventResponse{
				Type:      string(ev.Type),
				Actor:     string(ev.Actor),
				Reason:    ev.Reason,
				CreatedAt: ev.CreatedAt,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}

func toResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:                sub.ID,
		PlanID:            sub.PlanID,
		Status:            string(sub.Status),
		BillingCycle:      string(sub.BillingCycle),
		StartDate:         sub.StartDate,
		NextBillingDate:   sub.NextBillingDate,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelledAt:       sub.CancelledAt,
	}
}
