package plans

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/db/models"
)

// Repository reads and seeds the plan catalog.
type Repository interface {
	FindByID(ctx context.Context, id string) (*models.BillingPlan, error)
	ListActive(ctx context.Context) ([]models.BillingPlan, error)
	Count(ctx context.Context) (int64, error)
	CreateAll(ctx context.Context, plans []models.BillingPlan) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.conn(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	if err := r.conn(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC, id ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.conn(ctx).Model(&models.BillingPlan{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) CreateAll(ctx context.Context, plans []models.BillingPlan) error {
	if len(plans) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&plans).Error
	})
}
