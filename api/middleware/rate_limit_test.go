package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: map[string]int64{}}
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, 0, f.err
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func loginRequest(email, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"`+email+`","password":"x"}`))
	req.RemoteAddr = ip + ":5000"
	return req
}

func TestRateLimitEmailLimitAndBodyPreserved(t *testing.T) {
	limiter := newFakeLimiter()
	policy := RateLimitPolicy{Name: "login", Window: time.Minute, EmailLimit: 2}
	var seen string
	handler := RateLimit(policy, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, loginRequest(" Aluna@Example.com", "10.0.0."+string(rune('1'+i))))
		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d: expected %d got %d", i, want, rec.Code)
		}
		if i == 2 && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}
	if !strings.Contains(seen, "Aluna@Example.com") {
		t.Fatalf("handler should see the original body, got %q", seen)
	}
	for scope := range limiter.counts {
		if strings.Contains(scope, "aluna") {
			t.Fatalf("email must be hashed in scope %q", scope)
		}
	}
}

func TestRateLimitIPLimit(t *testing.T) {
	limiter := newFakeLimiter()
	handler := RateLimit(RateLimitPolicy{Name: "register", Window: time.Minute, IPLimit: 1}, limiter, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("a@example.com", "10.0.0.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	req := loginRequest("b@example.com", "10.0.0.2")
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected forwarded ip to be limited, got %d", rec.Code)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := newFakeLimiter()
	handler := RateLimit(RateLimitPolicy{Name: "feedback", Window: time.Minute, UserLimit: 1}, limiter, nil)(okHandler())
	userA, userB := uuid.New(), uuid.New()

	serve := func(user uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/essays/feedback", nil)
		req = req.WithContext(WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := serve(userA); code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	if code := serve(userA); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := serve(userB); code != http.StatusOK {
		t.Fatalf("other users are unaffected, got %d", code)
	}
}

func TestRateLimitLimiterFailure(t *testing.T) {
	limiter := newFakeLimiter()
	limiter.err = errors.New("redis down")
	handler := RateLimit(RateLimitPolicy{Name: "login", Window: time.Minute, IPLimit: 5}, limiter, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("a@example.com", "10.0.0.1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := RateLimit(RateLimitPolicy{Name: "off"}, newFakeLimiter(), nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("a@example.com", "10.0.0.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
