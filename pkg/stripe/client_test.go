package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/dissertia/dissertia-api/pkg/config"
)

func TestNewClientWithoutKeyIsNotConfigured(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewClientChecksKeyAgainstEnvironment(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{"test key in test", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_1", Env: "test"}, false},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_abc", Secret: "whsec_1", Env: "live"}, false},
		{"live key in test", config.StripeConfig{APIKey: "sk_live_abc", Secret: "whsec_1", Env: "test"}, true},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_abc", Env: "test"}, true},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_1", Env: "staging"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tc.cfg, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if client.SigningSecret() != "whsec_1" {
				t.Fatalf("unexpected secret %q", client.SigningSecret())
			}
		})
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Environment() != "" || c.SigningSecret() != "" {
		t.Fatal("nil client should report empty values")
	}
	if _, err := c.VerifyEvent([]byte(`{}`), "sig"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
