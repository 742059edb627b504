package essays

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dissertia/dissertia-api/internal/billing"
	"github.com/dissertia/dissertia-api/internal/entitlements"
	"github.com/dissertia/dissertia-api/internal/plans"
	"github.com/dissertia/dissertia-api/internal/usage"
	"github.com/dissertia/dissertia-api/internal/users"
	"github.com/dissertia/dissertia-api/pkg/db"
	"github.com/dissertia/dissertia-api/pkg/db/dbtest"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/vertexai"
)

type quotaFixture struct {
	client *db.Client
	ent    entitlements.Service
	comp   *stubCompleter
	svc    Service
}

func newQuotaFixture(t *testing.T, now time.Time) *quotaFixture {
	t.Helper()
	ctx := context.Background()
	client := dbtest.Open(t)
	clock := func() time.Time { return now }

	planService, err := plans.NewService(plans.ServiceParams{Repo: plans.NewRepository(client.DB())})
	require.NoError(t, err)
	require.NoError(t, planService.Seed(ctx))

	userRepo := users.NewRepository(client.DB())
	billingRepo := billing.NewRepository(client.DB())
	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:              usage.NewRepository(client.DB()),
		Users:             userRepo,
		Subscriptions:     billingRepo,
		TransactionRunner: client,
		Clock:             clock,
	})
	require.NoError(t, err)
	entService, err := entitlements.NewService(entitlements.ServiceParams{
		Users:         userRepo,
		Subscriptions: billingRepo,
		Plans:         planService,
		Usage:         usageService,
		FreePlanID:    plans.PlanFree,
		Clock:         clock,
	})
	require.NoError(t, err)

	comp := &stubCompleter{completion: &vertexai.Completion{Text: "Nota total: 760", Model: "gemini", InputTokens: 900, OutputTokens: 400}}
	svc, err := NewService(ServiceParams{
		Entitlements: entService,
		Usage:        usageService,
		Completer:    comp,
		Pricing:      testPricing,
	})
	require.NoError(t, err)
	return &quotaFixture{client: client, ent: entService, comp: comp, svc: svc}
}

func (f *quotaFixture) createUser(t *testing.T, createdAt time.Time) uuid.UUID {
	t.Helper()
	user := &models.User{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		Name:         "Aluna",
		IsActive:     true,
		CreatedAt:    createdAt,
	}
	require.NoError(t, f.client.DB().Create(user).Error)
	return user.ID
}

func TestFeedbackReusedKeyCannotBypassFreeQuota(t *testing.T) {
	signup := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newQuotaFixture(t, signup.Add(time.Hour))
	userID := f.createUser(t, signup)
	ctx := context.Background()

	_, err := f.svc.Feedback(ctx, userID, validInput())
	require.NoError(t, err)
	for i := 0; i < 19; i++ {
		_, err := f.svc.Feedback(ctx, userID, validInput())
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
	}

	assert.Equal(t, 1, f.comp.calls)
	decision, err := f.ent.Check(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, decision.OperationsUsed)
	assert.True(t, decision.CanUseAI)
}

func TestFeedbackSameKeyChargesEachUser(t *testing.T) {
	signup := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newQuotaFixture(t, signup.Add(time.Hour))
	alice := f.createUser(t, signup)
	bruno := f.createUser(t, signup)
	ctx := context.Background()

	first, err := f.svc.Feedback(ctx, alice, validInput())
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.Feedback(ctx, bruno, validInput())
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	require.NotNil(t, second.Decision)
	assert.Equal(t, 1, second.Decision.OperationsUsed)

	for _, id := range []uuid.UUID{alice, bruno} {
		decision, err := f.ent.Check(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, decision.OperationsUsed)
	}
	assert.Equal(t, 2, f.comp.calls)
}

func TestFeedbackFreeQuotaExhaustsAfterFiveKeys(t *testing.T) {
	signup := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newQuotaFixture(t, signup.Add(time.Hour))
	userID := f.createUser(t, signup)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		input := validInput()
		input.OperationKey = key
		_, err := f.svc.Feedback(ctx, userID, input)
		require.NoError(t, err)
	}

	input := validInput()
	input.OperationKey = "f"
	_, err := f.svc.Feedback(ctx, userID, input)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodePaymentRequired, pkgerrors.CodeOf(err))
	assert.Equal(t, 5, f.comp.calls)
}
