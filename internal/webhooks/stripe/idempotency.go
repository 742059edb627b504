package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dissertia/dissertia-api/pkg/redis"
)

// EventScope namespaces Stripe event ids in the idempotency keyspace.
const EventScope = "stripe_event"

const defaultEventTTL = 7 * 24 * time.Hour

// EventGuard remembers processed Stripe event ids so redeliveries are acknowledged
// without being applied twice.
type EventGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &EventGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark claims the event id. It reports true when the id was already claimed.
func (g *EventGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	claimed, err := g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim stripe event: %w", err)
	}
	return !claimed, nil
}

// Delete releases a claim after a failed delivery so Stripe's retry is processed.
func (g *EventGuard) Delete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *EventGuard) key(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(EventScope, eventID), nil
}
