package subscriptions

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/dissertia/dissertia-api/pkg/stripe"
)

// StripeSubscriptionClient is the subset of Stripe calls the lifecycle service makes.
type StripeSubscriptionClient interface {
	SetCancelAtPeriodEnd(ctx context.Context, stripeSubscriptionID string, cancel bool) (*stripe.Subscription, error)
}

type stripeClientWrapper struct{}

// NewStripeClient returns nil when Stripe is not configured so callers can
// skip the remote push.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) SetCancelAtPeriodEnd(ctx context.Context, stripeSubscriptionID string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	return subscription.Update(strings.TrimSpace(stripeSubscriptionID), params)
}
