package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
)

const refreshTokenBytes = 32

// ErrInvalidRefreshToken covers unknown, revoked and mismatched refresh tokens.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	SessionKey(userID, accessID string) string
}

// Checker is the read-only surface used by the auth middleware.
type Checker interface {
	HasSession(ctx context.Context, userID uuid.UUID, accessID string) (bool, error)
}

// Manager stores one opaque refresh token per issued access token, keyed
// by user and jti.
type Manager struct {
	store store
	ttl   time.Duration
}

func NewManager(s store, cfg config.JWTConfig) (*Manager, error) {
	if s == nil {
		return nil, errors.New("session store is required")
	}
	ttl := cfg.RefreshTokenTTL()
	accessTTL := time.Duration(cfg.ExpirationMinutes) * time.Minute
	if ttl <= accessTTL {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, accessTTL)
	}
	return &Manager{store: s, ttl: ttl}, nil
}

// Generate opens a session for accessID and returns its refresh token.
func (m *Manager) Generate(ctx context.Context, userID uuid.UUID, accessID string) (string, error) {
	if userID == uuid.Nil || strings.TrimSpace(accessID) == "" {
		return "", errors.New("user id and access id are required")
	}
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, m.store.SessionKey(userID.String(), accessID), token, m.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Rotate exchanges a valid refresh token for a new session. The old
// session is deleted only after the new one is stored.
func (m *Manager) Rotate(ctx context.Context, userID uuid.UUID, oldAccessID, provided string) (string, string, error) {
	if userID == uuid.Nil || strings.TrimSpace(oldAccessID) == "" || strings.TrimSpace(provided) == "" {
		return "", "", ErrInvalidRefreshToken
	}
	oldKey := m.store.SessionKey(userID.String(), oldAccessID)
	stored, err := m.store.Get(ctx, oldKey)
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return "", "", ErrInvalidRefreshToken
		}
		return "", "", err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) != 1 {
		return "", "", ErrInvalidRefreshToken
	}

	accessID := NewAccessID()
	token, err := m.Generate(ctx, userID, accessID)
	if err != nil {
		return "", "", err
	}
	if err := m.store.Del(ctx, oldKey); err != nil {
		return "", "", fmt.Errorf("delete old session: %w", err)
	}
	return accessID, token, nil
}

// Revoke ends the session; revoking an unknown session is not an error.
func (m *Manager) Revoke(ctx context.Context, userID uuid.UUID, accessID string) error {
	if userID == uuid.Nil || strings.TrimSpace(accessID) == "" {
		return errors.New("user id and access id are required")
	}
	return m.store.Del(ctx, m.store.SessionKey(userID.String(), accessID))
}

func (m *Manager) HasSession(ctx context.Context, userID uuid.UUID, accessID string) (bool, error) {
	if userID == uuid.Nil || strings.TrimSpace(accessID) == "" {
		return false, nil
	}
	if _, err := m.store.Get(ctx, m.store.SessionKey(userID.String(), accessID)); err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewAccessID returns the jti for a freshly minted access token.
func NewAccessID() string {
	return uuid.NewString()
}

func newRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
