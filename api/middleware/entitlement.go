package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/api/responses"
	"github.com/dissertia/dissertia-api/internal/entitlements"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

type entitlementChecker interface {
	Check(ctx context.Context, userID uuid.UUID) (*entitlements.Decision, error)
}

// RequireAIEntitlement refuses the request with 402 when the user's quota is
// exhausted. It must run after Auth. The decision is stored on the context
// so handlers can echo it without a second lookup.
func RequireAIEntitlement(checker entitlementChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context"))
				return
			}
			if checker == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
				return
			}

			decision, err := checker.Check(r.Context(), userID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !decision.CanUseAI {
				if logg != nil {
					ctx := logg.WithFields(r.Context(), map[string]any{
						"plan_id":          decision.PlanID,
						"operations_used":  decision.OperationsUsed,
						"operations_limit": decision.OperationsLimit,
					})
					logg.Info(ctx, "entitlement.blocked")
				}
				responses.WriteError(r.Context(), logg, w, decision.QuotaExceeded())
				return
			}
			next.ServeHTTP(w, r.WithContext(withDecision(r.Context(), decision)))
		})
	}
}
