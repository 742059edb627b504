package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i := 1; i <= 3; i++ {
		allowed, count, err := client.FixedWindowAllow(ctx, "login:ip:10.0.0.1", 2, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if count != int64(i) {
			t.Fatalf("call %d: expected count %d got %d", i, i, count)
		}
		if want := i <= 2; allowed != want {
			t.Fatalf("call %d: expected allowed=%v", i, want)
		}
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected a single expire, got %d", len(mock.expireCalls))
	}
	if mock.expireCalls[0].key != "dissertia:rate_limit:login:ip:10.0.0.1" || mock.expireCalls[0].ttl != time.Minute {
		t.Fatalf("unexpected expire call %+v", mock.expireCalls[0])
	}
}

func TestFixedWindowAllowIncrError(t *testing.T) {
	mock := newMockCmdable()
	mock.incrErr = errors.New("down")
	client := &Client{store: mock}

	allowed, _, err := client.FixedWindowAllow(context.Background(), "scope", 5, time.Minute)
	if err == nil || allowed {
		t.Fatalf("expected error and deny, got allowed=%v err=%v", allowed, err)
	}
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.LockKey("cron")

	ok, err := client.SetNX(ctx, key, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first setnx ok=%v err=%v", ok, err)
	}
	ok, _ = client.SetNX(ctx, key, "b", time.Minute)
	if ok {
		t.Fatal("second setnx should fail")
	}
	if v, _ := client.Get(ctx, key); v != "a" {
		t.Fatalf("expected original holder, got %q", v)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if err := client.Ping(ctx); err == nil {
		t.Fatal("expected ping error")
	}
	if _, err := client.Get(ctx, "k"); err == nil {
		t.Fatal("expected get error")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil raw client should be a no-op: %v", err)
	}
}

func TestKeys(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("stripe_event", "evt_1"): "dissertia:idempotency:stripe_event:evt_1",
		client.RateLimitKey("register:email:a@b.c"):    "dissertia:rate_limit:register:email:a@b.c",
		client.SessionKey("user-1", "access-1"):        "dissertia:session:user-1:access-1",
		client.LockKey("cron"):                         "dissertia:lock:cron",
		Key("a", "", " b "):                            "dissertia:a:b",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("expected %s got %s", want, got)
		}
	}
}

func TestBuildOptions(t *testing.T) {
	if _, err := buildOptions(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := buildOptions(config.RedisConfig{URL: "redis://:secret@cache:6380/2", PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Fatalf("unexpected parsed options %+v", opts)
	}
	if opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("config defaults not applied: %+v", opts)
	}

	opts, err = buildOptions(config.RedisConfig{Address: "localhost:6379", DB: 3})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 3 {
		t.Fatalf("unexpected address options %+v", opts)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	incrErr     error
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	if m.incrErr != nil {
		return redis.NewIntResult(0, m.incrErr)
	}
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: ttl})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
