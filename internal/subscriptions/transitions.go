package subscriptions

import (
	"time"

	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

// requestCancel flags an active subscription to end at its period boundary.
// It reports whether anything changed; a second request is a no-op.
func requestCancel(sub *models.Subscription) (bool, error) {
	if sub.Status != enums.SubscriptionStatusActive {
		return false, invalidTransition(sub.Status, "cancel")
	}
	if sub.CancelAtPeriodEnd {
		return false, nil
	}
	sub.CancelAtPeriodEnd = true
	return true, nil
}

// reactivate clears a pending cancellation on an active subscription.
func reactivate(sub *models.Subscription) error {
	if sub.Status != enums.SubscriptionStatusActive || !sub.CancelAtPeriodEnd {
		return invalidTransition(sub.Status, "reactivate")
	}
	sub.CancelAtPeriodEnd = false
	return nil
}

// rollOver moves a subscription across its billing boundary. It returns the
// audit event type to record, or "" when the subscription is not yet due.
func rollOver(sub *models.Subscription, now time.Time) enums.SubscriptionEventType {
	if now.Before(sub.NextBillingDate) {
		return ""
	}
	switch {
	case sub.Status == enums.SubscriptionStatusActive && sub.CancelAtPeriodEnd:
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		return enums.SubscriptionEventTypeCancelled
	case sub.Status == enums.SubscriptionStatusTrial:
		sub.Status = enums.SubscriptionStatusExpired
		return enums.SubscriptionEventTypeExpired
	case sub.Status == enums.SubscriptionStatusActive:
		period := sub.BillingCycle.Period()
		for !sub.NextBillingDate.After(now) {
			sub.NextBillingDate = sub.NextBillingDate.Add(period)
		}
		return enums.SubscriptionEventTypeRenewed
	default:
		return ""
	}
}

func invalidTransition(status enums.SubscriptionStatus, action string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription cannot "+action+" from status "+status.String()).
		WithDetails(map[string]any{"status": status.String(), "action": action})
}
