package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memStore) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestEventGuardDedupesAndReleases(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	guard, err := NewEventGuard(store, 0)
	if err != nil {
		t.Fatalf("NewEventGuard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("first delivery: seen=%v err=%v", seen, err)
	}
	if _, ok := store.values["idem:stripe_event:evt_1"]; !ok {
		t.Fatal("expected scoped key to be stored")
	}
	if seen, _ := guard.CheckAndMark(ctx, "evt_1"); !seen {
		t.Fatal("redelivery should be reported as seen")
	}
	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if seen, _ := guard.CheckAndMark(ctx, "evt_1"); seen {
		t.Fatal("released event should be processed again")
	}
	if _, err := guard.CheckAndMark(ctx, " "); err == nil {
		t.Fatal("expected error for blank event id")
	}
}
