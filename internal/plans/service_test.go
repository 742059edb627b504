package plans

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dissertia/dissertia-api/pkg/db/dbtest"
	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
)

func newSeededService(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Repo: NewRepository(dbtest.Open(t).DB())})
	require.NoError(t, err)
	require.NoError(t, svc.Seed(context.Background()))
	return svc
}

func TestSeedWritesDefaultCatalogOnce(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))
	require.NoError(t, svc.Seed(ctx))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(DefaultCatalog())), count)
}

func TestSeedSkipsWhenCatalogExists(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	custom := models.BillingPlan{
		ID:                    "legacy",
		Name:                  "Legacy",
		MonthlyPrice:          decimal.Zero,
		YearlyPrice:           decimal.Zero,
		MaxOperationsPerMonth: 3,
		MaxAICostPerMonth:     100,
		IsActive:              true,
	}
	require.NoError(t, repo.CreateAll(ctx, []models.BillingPlan{custom}))

	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)
	require.NoError(t, svc.Seed(ctx))

	_, err = svc.GetPlan(ctx, PlanFree)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestGetPlanRoundTripsCatalogFields(t *testing.T) {
	svc := newSeededService(t)
	ctx := context.Background()

	free, err := svc.GetPlan(ctx, PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 5, free.MaxOperationsPerMonth)
	assert.False(t, free.UnlimitedOperations())
	assert.Equal(t, DefaultCatalog()[0].Features, free.Features)

	pro, err := svc.GetPlan(ctx, PlanProYearly)
	require.NoError(t, err)
	assert.True(t, pro.UnlimitedOperations())
	assert.True(t, pro.YearlyPrice.Equal(decimal.RequireFromString("299")))
}

func TestGetPlanErrors(t *testing.T) {
	svc := newSeededService(t)
	ctx := context.Background()

	_, err := svc.GetPlan(ctx, "  ")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = svc.GetPlan(ctx, "enterprise")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestListOrdersFreeFirst(t *testing.T) {
	svc := newSeededService(t)
	plans, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, PlanFree, plans[0].ID)
	assert.Equal(t, PlanProYearly, plans[2].ID)
}

func TestSeedRejectsInvalidCatalog(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	svc, err := NewService(ServiceParams{Repo: repo, Catalog: []models.BillingPlan{{
		ID:                    "broken",
		Name:                  "Broken",
		MaxOperationsPerMonth: -2,
	}}})
	require.NoError(t, err)

	err = svc.Seed(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestValidatePlanRejectsBlankFeature(t *testing.T) {
	plan := DefaultCatalog()[0]
	plan.Features = pq.StringArray{"ok", " "}
	assert.Error(t, ValidatePlan(plan))
}
