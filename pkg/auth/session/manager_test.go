package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", redislib.Nil
	}
	return v, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) SessionKey(userID, accessID string) string {
	return "session:" + userID + ":" + accessID
}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	m, err := NewManager(store, config.JWTConfig{ExpirationMinutes: 15, RefreshTokenTTLMinutes: 60})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, store
}

func TestNewManagerRequiresLongerRefreshTTL(t *testing.T) {
	if _, err := NewManager(newMemStore(), config.JWTConfig{ExpirationMinutes: 60, RefreshTokenTTLMinutes: 60}); err == nil {
		t.Fatal("expected ttl error")
	}
	if _, err := NewManager(nil, config.JWTConfig{ExpirationMinutes: 1, RefreshTokenTTLMinutes: 60}); err == nil {
		t.Fatal("expected store error")
	}
}

func TestGenerateAndHasSession(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	userID := uuid.New()

	token, err := m.Generate(ctx, userID, "access-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token == "" {
		t.Fatal("expected token")
	}
	key := store.SessionKey(userID.String(), "access-1")
	if store.ttls[key] != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", store.ttls[key])
	}

	ok, err := m.HasSession(ctx, userID, "access-1")
	if err != nil || !ok {
		t.Fatalf("expected session, ok=%v err=%v", ok, err)
	}
	ok, _ = m.HasSession(ctx, uuid.New(), "access-1")
	if ok {
		t.Fatal("session must be bound to its user")
	}
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	userID := uuid.New()

	token, err := m.Generate(ctx, userID, "access-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	newID, newToken, err := m.Rotate(ctx, userID, "access-1", token)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newID == "access-1" || newToken == token {
		t.Fatal("rotation must issue fresh identifiers")
	}
	if ok, _ := m.HasSession(ctx, userID, "access-1"); ok {
		t.Fatal("old session should be gone")
	}
	if ok, _ := m.HasSession(ctx, userID, newID); !ok {
		t.Fatal("new session should exist")
	}

	if _, _, err := m.Rotate(ctx, userID, "access-1", token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("replay should fail, got %v", err)
	}
}

func TestRotateRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	userID := uuid.New()

	if _, err := m.Generate(ctx, userID, "access-1"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, _, err := m.Rotate(ctx, userID, "access-1", "wrong"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if ok, _ := m.HasSession(ctx, userID, "access-1"); !ok {
		t.Fatal("failed rotation must keep the session")
	}
	if _, _, err := m.Rotate(ctx, userID, "", "x"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected invalid token for blank id, got %v", err)
	}
}

func TestRotatePropagatesStoreErrors(t *testing.T) {
	m, store := newTestManager(t)
	store.err = errors.New("redis down")
	_, _, err := m.Rotate(context.Background(), uuid.New(), "a", "b")
	if err == nil || errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	userID := uuid.New()

	if _, err := m.Generate(ctx, userID, "access-1"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := m.Revoke(ctx, userID, "access-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := m.HasSession(ctx, userID, "access-1"); ok {
		t.Fatal("expected session revoked")
	}
	if err := m.Revoke(ctx, userID, "access-1"); err != nil {
		t.Fatalf("second revoke should be a no-op: %v", err)
	}
}
