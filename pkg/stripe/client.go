package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/charge"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

const (
	EnvTest = "test"
	EnvLive = "live"
)

var (
	ErrNotConfigured   = errors.New("stripe is not configured")
	errSecretRequired  = errors.New("stripe webhook secret is required")
	errUnsupportedMode = fmt.Errorf("stripe environment must be %q or %q", EnvTest, EnvLive)
)

// Client holds the process-wide Stripe configuration.
type Client struct {
	environment   string
	signingSecret string
}

// NewClient validates the key against the configured environment and sets
// the global key used by the stripe-go resource packages. It returns
// ErrNotConfigured when no API key is set so callers can run without billing.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	env := cfg.Environment()
	if err := checkKey(env, apiKey); err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}

	stripe.Key = apiKey
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return &Client{environment: env, signingSecret: secret}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook endpoint secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// VerifyEvent checks the Stripe-Signature header and decodes the event.
func (c *Client) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil {
		return stripe.Event{}, ErrNotConfigured
	}
	return webhook.ConstructEvent(payload, signature, c.signingSecret)
}

// GetCharge retrieves a charge by id.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*stripe.Charge, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.ChargeParams{}
	params.Context = ctx
	return charge.Get(strings.TrimSpace(chargeID), params)
}

func checkKey(env, key string) error {
	var prefixes []string
	switch env {
	case EnvTest:
		prefixes = []string{"sk_test_", "rk_test_"}
	case EnvLive:
		prefixes = []string{"sk_live_", "rk_live_"}
	default:
		return errUnsupportedMode
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s environment requires a key starting with %s", env, strings.Join(prefixes, " or "))
}
