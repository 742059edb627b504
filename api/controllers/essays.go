package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/api/middleware"
	"github.com/dissertia/dissertia-api/api/responses"
	"github.com/dissertia/dissertia-api/api/validators"
	"github.com/dissertia/dissertia-api/internal/entitlements"
	"github.com/dissertia/dissertia-api/internal/essays"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

const maxThemeRunes = 300

type essayFeedbackService interface {
	Feedback(ctx context.Context, userID uuid.UUID, input essays.FeedbackInput) (*essays.FeedbackResult, error)
}

type essayFeedbackRequest struct {
	OperationKey string `json:"operation_key" validate:"omitempty,max=128"`
	Theme        string `json:"theme" validate:"max=300"`
	Essay        string `json:"essay" validate:"required"`
}

type essayFeedbackResponse struct {
	OperationKey string                 `json:"operation_key"`
	Feedback     string                 `json:"feedback"`
	Model        string                 `json:"model"`
	CostCents    int64                  `json:"cost_cents"`
	Duplicate    bool                   `json:"duplicate"`
	Entitlement  *entitlements.Decision `json:"entitlement"`
}

// EssayFeedback runs one gated AI call. The operation key comes from the body
// or, when absent, from the Idempotency-Key header so client retries are
// charged once.
func EssayFeedback(svc essayFeedbackService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "essay service unavailable"))
			return
		}
		userID, err := middleware.RequireUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload essayFeedbackRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		key := strings.TrimSpace(payload.OperationKey)
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader))
		}
		if key == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "operation_key or Idempotency-Key header is required"))
			return
		}

		result, err := svc.Feedback(ctx, userID, essays.FeedbackInput{
			OperationKey: key,
			Theme:        validators.SanitizeString(payload.Theme, maxThemeRunes),
			Essay:        payload.Essay,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		decision := result.Decision
		if decision == nil {
			decision = middleware.DecisionFromContext(ctx)
		}
		responses.WriteSuccess(w, essayFeedbackResponse{
			OperationKey: result.OperationKey,
			Feedback:     result.Feedback,
			Model:        result.Model,
			CostCents:    result.CostCents,
			Duplicate:    result.Duplicate,
			Entitlement:  decision,
		})
	}
}
