package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/internal/billing"
	"github.com/dissertia/dissertia-api/internal/users"
	"github.com/dissertia/dissertia-api/pkg/db"
	"github.com/dissertia/dissertia-api/pkg/db/dbtest"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

type fixture struct {
	client  *db.Client
	repo    Repository
	users   *users.Repository
	billing billing.Repository
	clock   *fakeClock
	svc     Service
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	f := &fixture{
		client:  client,
		repo:    NewRepository(client.DB()),
		users:   users.NewRepository(client.DB()),
		billing: billing.NewRepository(client.DB()),
		clock:   &fakeClock{now: start},
	}
	svc, err := NewService(ServiceParams{
		Repo:              f.repo,
		Users:             f.users,
		Subscriptions:     f.billing,
		TransactionRunner: client,
		Clock:             f.clock.Now,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) createUser(t *testing.T, createdAt time.Time) *models.User {
	t.Helper()
	user := &models.User{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		Name:         "Aluno",
		IsActive:     true,
		CreatedAt:    createdAt,
	}
	require.NoError(t, f.client.DB().Create(user).Error)
	return user
}

func record(userID uuid.UUID, key string) RecordInput {
	return RecordInput{
		UserID:       userID,
		OperationKey: key,
		Kind:         enums.AIOperationKindEssayFeedback,
		CostCents:    3,
		InputTokens:  1200,
		OutputTokens: 800,
	}
}

func TestRecordUsageAccumulatesWithinWindow(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(48*time.Hour))
	user := f.createUser(t, signup)
	ctx := context.Background()

	var last *RecordResult
	for i := 0; i < 5; i++ {
		res, err := f.svc.RecordUsage(ctx, record(user.ID, fmt.Sprintf("op-%d", i)))
		require.NoError(t, err)
		last = res
	}

	require.NotNil(t, last.Period)
	assert.Equal(t, 5, last.Period.OperationCount)
	assert.Equal(t, int64(15), last.Period.CostCents)
	assert.Equal(t, int64(6000), last.Period.InputTokens)
	assert.True(t, last.Period.PeriodStart.Equal(signup))
	assert.True(t, last.Period.PeriodEnd.Equal(signup.Add(DefaultWindowLength)))
}

// dbtest pins sqlite to one connection, so the goroutines here queue at the
// pool. The row-level race on postgres is covered by the postgres-tagged
// variant in concurrency_postgres_test.go.
func TestRecordUsageConcurrentIncrementsAreNotLost(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(time.Hour))
	user := f.createUser(t, signup)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.RecordUsage(ctx, record(user.ID, fmt.Sprintf("concurrent-%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	window, err := f.svc.ResolveWindow(ctx, user.ID, f.clock.Now())
	require.NoError(t, err)
	period, err := f.svc.Current(ctx, user.ID, window)
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, n, period.OperationCount)

	var periods int64
	require.NoError(t, f.client.DB().Model(&models.UsagePeriod{}).Where("user_id = ?", user.ID).Count(&periods).Error)
	assert.Equal(t, int64(1), periods)
}

func TestRecordUsageReplayedKeyIsNotChargedTwice(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(time.Hour))
	user := f.createUser(t, signup)
	ctx := context.Background()

	first, err := f.svc.RecordUsage(ctx, record(user.ID, "same-key"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.RecordUsage(ctx, record(user.ID, "same-key"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	require.NotNil(t, second.Period)
	assert.Equal(t, 1, second.Period.OperationCount)

	var ops int64
	require.NoError(t, f.client.DB().Model(&models.AIOperation{}).Where("user_id = ?", user.ID).Count(&ops).Error)
	assert.Equal(t, int64(1), ops)
}

func TestRecordUsageSameKeyChargesEachUser(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(time.Hour))
	alice := f.createUser(t, signup)
	bruno := f.createUser(t, signup)
	ctx := context.Background()

	first, err := f.svc.RecordUsage(ctx, record(alice.ID, "op-123"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.RecordUsage(ctx, record(bruno.ID, "op-123"))
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	require.NotNil(t, second.Period)
	assert.Equal(t, 1, second.Period.OperationCount)
	assert.Equal(t, bruno.ID, second.Period.UserID)

	replay, err := f.svc.RecordUsage(ctx, record(bruno.ID, "op-123"))
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, 1, replay.Period.OperationCount)
}

func TestFindOperationIsScopedToUser(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(time.Hour))
	alice := f.createUser(t, signup)
	bruno := f.createUser(t, signup)
	ctx := context.Background()

	_, err := f.svc.RecordUsage(ctx, record(alice.ID, " op-123 "))
	require.NoError(t, err)

	op, err := f.svc.FindOperation(ctx, alice.ID, "op-123")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "op-123", op.OperationKey)
	assert.Equal(t, int64(3), op.CostCents)

	other, err := f.svc.FindOperation(ctx, bruno.ID, "op-123")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestRecordUsageRollsOverIntoFreshWindow(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(29*24*time.Hour))
	user := f.createUser(t, signup)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.RecordUsage(ctx, record(user.ID, fmt.Sprintf("old-%d", i)))
		require.NoError(t, err)
	}

	f.clock.Advance(2 * 24 * time.Hour)
	res, err := f.svc.RecordUsage(ctx, record(user.ID, "new-0"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Period.OperationCount)
	assert.True(t, res.Period.PeriodStart.Equal(signup.Add(DefaultWindowLength)))

	previous, err := f.repo.FindPeriod(ctx, user.ID, signup)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, 3, previous.OperationCount)

	history, err := f.svc.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].PeriodStart.After(history[1].PeriodStart))
}

func TestRecordUsageAnchorsOnLiveSubscription(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	subStart := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, subStart.Add(24*time.Hour))
	user := f.createUser(t, signup)
	ctx := context.Background()

	require.NoError(t, f.billing.CreateSubscription(ctx, &models.Subscription{
		UserID:          user.ID,
		PlanID:          "pro_monthly",
		Status:          enums.SubscriptionStatusActive,
		BillingCycle:    enums.BillingCycleMonthly,
		StartDate:       subStart,
		NextBillingDate: subStart.Add(enums.BillingCycleMonthly.Period()),
	}))

	res, err := f.svc.RecordUsage(ctx, record(user.ID, "pro-0"))
	require.NoError(t, err)
	assert.True(t, res.Window.Start.Equal(subStart))
	assert.True(t, res.Window.End.Equal(subStart.Add(enums.BillingCycleMonthly.Period())))
}

func TestRecordUsageValidation(t *testing.T) {
	f := newFixture(t, time.Now().UTC())
	ctx := context.Background()
	userID := uuid.New()

	cases := map[string]RecordInput{
		"missing user":   {OperationKey: "k", Kind: enums.AIOperationKindEssayFeedback},
		"missing key":    {UserID: userID, Kind: enums.AIOperationKindEssayFeedback},
		"unknown kind":   {UserID: userID, OperationKey: "k", Kind: "poem"},
		"negative delta": {UserID: userID, OperationKey: "k", Kind: enums.AIOperationKindEssayFeedback, CostCents: -1},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RecordUsage(ctx, input)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}
}

func TestRecordUsageUnknownUser(t *testing.T) {
	f := newFixture(t, time.Now().UTC())
	_, err := f.svc.RecordUsage(context.Background(), record(uuid.New(), "k"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

type failingRepo struct {
	Repository
}

func (r failingRepo) WithTx(tx *gorm.DB) Repository { return r }

func (failingRepo) Increment(context.Context, uuid.UUID, Window, Delta, time.Time) (*models.UsagePeriod, error) {
	return nil, errors.New("connection reset")
}

func TestRecordUsageFailsClosedOnStorageError(t *testing.T) {
	signup := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, signup.Add(time.Hour))
	user := f.createUser(t, signup)

	svc, err := NewService(ServiceParams{
		Repo:              failingRepo{Repository: f.repo},
		Users:             f.users,
		Subscriptions:     f.billing,
		TransactionRunner: f.client,
		Clock:             f.clock.Now,
	})
	require.NoError(t, err)

	_, err = svc.RecordUsage(context.Background(), record(user.ID, "k"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	var ops int64
	require.NoError(t, f.client.DB().Model(&models.AIOperation{}).Count(&ops).Error)
	assert.Zero(t, ops)
}
