package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/dissertia/dissertia-api/internal/entitlements"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxAccessID contextKey = "access_id"
	ctxDecision contextKey = "entitlement_decision"
)

// UserIDFromContext returns the authenticated user. Handlers must never take
// the user id from the request body or path.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// RequireUserID is UserIDFromContext for handlers that sit behind Auth.
func RequireUserID(ctx context.Context) (uuid.UUID, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return id, nil
}

func AccessIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxAccessID).(string)
	return v
}

// DecisionFromContext returns the decision computed by RequireAIEntitlement.
func DecisionFromContext(ctx context.Context) *entitlements.Decision {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(ctxDecision).(*entitlements.Decision)
	return d
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

func withAccessID(ctx context.Context, accessID string) context.Context {
	return context.WithValue(ctx, ctxAccessID, accessID)
}

func withDecision(ctx context.Context, d *entitlements.Decision) context.Context {
	return context.WithValue(ctx, ctxDecision, d)
}
