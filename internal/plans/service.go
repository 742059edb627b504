package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dissertia/dissertia-api/pkg/db/models"
	pkgerrors "github.com/dissertia/dissertia-api/pkg/errors"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

// Service exposes the read-only plan catalog.
type Service interface {
	GetPlan(ctx context.Context, planID string) (*models.BillingPlan, error)
	List(ctx context.Context) ([]models.BillingPlan, error)
	Seed(ctx context.Context) error
}

type ServiceParams struct {
	Repo    Repository
	Logger  *logger.Logger
	Catalog []models.BillingPlan
}

type service struct {
	repo    Repository
	logg    *logger.Logger
	catalog []models.BillingPlan
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("plans repository required")
	}
	catalog := params.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &service{repo: params.Repo, logg: params.Logger, catalog: catalog}, nil
}

func (s *service) GetPlan(ctx context.Context, planID string) (*models.BillingPlan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.repo.FindByID(ctx, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %s not found", planID))
	}
	return plan, nil
}

func (s *service) List(ctx context.Context) ([]models.BillingPlan, error) {
	plans, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

// Seed writes the catalog only when the table is empty, so restarts never
// rewrite plans that already exist.
func (s *service) Seed(ctx context.Context) error {
	for _, plan := range s.catalog {
		if err := ValidatePlan(plan); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan catalog")
		}
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count plans")
	}
	if count > 0 {
		if s.logg != nil {
			s.logg.Debug(ctx, "plan catalog already seeded")
		}
		return nil
	}

	if err := s.repo.CreateAll(ctx, s.catalog); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed plans")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "plans", len(s.catalog)), "plan catalog seeded")
	}
	return nil
}
