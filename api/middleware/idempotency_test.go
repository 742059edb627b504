package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dissertia/dissertia-api/api/responses"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

type fakeIdemStore struct {
	data   map[string]string
	getErr error
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{data: map[string]string{}}
}

func (f *fakeIdemStore) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeIdemStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeIdemStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func idempotentRequest(user uuid.UUID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscription/cancel", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithUserID(req.Context(), user))
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		_, _ = io.ReadAll(r.Body)
		if status >= 400 {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeStateConflict, "nope"))
			return
		}
		responses.WriteSuccessStatus(w, status, map[string]int{"call": *calls})
	})
}

func TestIdempotentReplaysSuccess(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	handler := Idempotent(store, time.Hour, nil)(countingHandler(&calls, http.StatusOK))
	user := uuid.New()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest(user, "k1", `{"reason":"caro"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest(user, "k1", `{"reason":"caro"}`))

	if calls != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay header")
	}
	if first.Body.String() != second.Body.String() || second.Code != http.StatusOK {
		t.Fatalf("replay mismatch: %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestIdempotentRejectsDifferentBody(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	handler := Idempotent(store, time.Hour, nil)(countingHandler(&calls, http.StatusOK))
	user := uuid.New()

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k1", `{"reason":"a"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest(user, "k1", `{"reason":"b"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	var body responses.ErrorEnvelope
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestIdempotentScopesByUser(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	handler := Idempotent(store, time.Hour, nil)(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(uuid.New(), "k1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(uuid.New(), "k1", `{}`))
	if calls != 2 {
		t.Fatalf("keys must not be shared across users, calls=%d", calls)
	}
}

func TestIdempotentDoesNotStoreFailures(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	handler := Idempotent(store, time.Hour, nil)(countingHandler(&calls, http.StatusUnprocessableEntity))
	user := uuid.New()

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k1", `{}`))
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("failures must not be cached, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotentWithoutHeaderPassesThrough(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	handler := Idempotent(store, time.Hour, nil)(countingHandler(&calls, http.StatusOK))
	user := uuid.New()

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "", `{}`))
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("expected pass-through, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotentStoreFailure(t *testing.T) {
	store := newFakeIdemStore()
	store.getErr = errors.New("redis down")
	calls := 0
	handler := Idempotent(store, time.Hour, nil)(countingHandler(&calls, http.StatusOK))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest(uuid.New(), "k1", `{}`))
	if rec.Code != http.StatusServiceUnavailable || calls != 0 {
		t.Fatalf("expected 503 without calling handler, got %d calls=%d", rec.Code, calls)
	}
}
