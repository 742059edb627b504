package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

// MetadataUserID is the Stripe metadata key carrying the DissertIA user id.
const MetadataUserID = "user_id"

// StripeSnapshot is the processor-side state of a subscription, reduced to
// what the local lifecycle tracks.
type StripeSnapshot struct {
	SubscriptionID    string
	CustomerID        string
	PriceID           string
	UserID            uuid.UUID
	Status            enums.SubscriptionStatus
	CancelAtPeriodEnd bool
	StartDate         time.Time
	PeriodEnd         time.Time
}

// PriceCatalog maps Stripe price ids onto local plans.
type PriceCatalog struct {
	MonthlyPriceID string
	YearlyPriceID  string
	MonthlyPlanID  string
	YearlyPlanID   string
}

// Resolve returns the plan and billing cycle sold under the given price.
func (c PriceCatalog) Resolve(priceID string) (string, enums.BillingCycle, bool) {
	priceID = strings.TrimSpace(priceID)
	switch {
	case priceID == "":
		return "", "", false
	case priceID == c.MonthlyPriceID:
		return c.MonthlyPlanID, enums.BillingCycleMonthly, true
	case priceID == c.YearlyPriceID:
		return c.YearlyPlanID, enums.BillingCycleYearly, true
	default:
		return "", "", false
	}
}

// SnapshotFromStripe reads the fields the lifecycle needs off a Stripe subscription.
func SnapshotFromStripe(sub *stripe.Subscription) (*StripeSnapshot, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription is nil")
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription id is required")
	}
	status, err := mapStripeStatus(sub.Status)
	if err != nil {
		return nil, err
	}

	snap := &StripeSnapshot{
		SubscriptionID:    sub.ID,
		Status:            status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		StartDate:         unixTime(sub.StartDate),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if raw := strings.TrimSpace(sub.Metadata[MetadataUserID]); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
		}
		snap.UserID = userID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil && snap.PriceID == "" {
				snap.PriceID = item.Price.ID
			}
			if end := unixTime(item.CurrentPeriodEnd); end.After(snap.PeriodEnd) {
				snap.PeriodEnd = end
			}
		}
	}
	return snap, nil
}

func mapStripeStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusPastDue:
		return enums.SubscriptionStatusActive, nil
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrial, nil
	case stripe.SubscriptionStatusPaused, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPaused, nil
	case stripe.SubscriptionStatusCanceled:
		return enums.SubscriptionStatusCancelled, nil
	case stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusExpired, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported stripe subscription status").
			WithDetails(map[string]any{"status": string(status)})
	}
}

func unixTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
