package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dissertia/dissertia-api/pkg/db/models"
)

// Delta is the amount one operation adds to an accumulator.
type Delta struct {
	Operations   int
	CostCents    int64
	InputTokens  int64
	OutputTokens int64
}

// Repository persists usage accumulators and the operation log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Increment(ctx context.Context, userID uuid.UUID, window Window, delta Delta, now time.Time) (*models.UsagePeriod, error)
	ClaimOperation(ctx context.Context, op *models.AIOperation) (bool, error)
	FindOperation(ctx context.Context, userID uuid.UUID, operationKey string) (*models.AIOperation, error)
	FindPeriod(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.UsagePeriod, error)
	ListPeriods(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsagePeriod, error)
	DeleteOperationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Increment creates the window's accumulator or adds delta to it in a single
// upsert, then reads the row back on the same connection. Concurrent callers
// serialize on the (user_id, period_start) row, so no increment is lost and a
// rollover can never race with a write to the previous window.
func (r *repository) Increment(ctx context.Context, userID uuid.UUID, window Window, delta Delta, now time.Time) (*models.UsagePeriod, error) {
	row := models.UsagePeriod{
		UserID:         userID,
		PeriodStart:    window.Start,
		PeriodEnd:      window.End,
		OperationCount: delta.Operations,
		CostCents:      delta.CostCents,
		InputTokens:    delta.InputTokens,
		OutputTokens:   delta.OutputTokens,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "period_start"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "operation_count"}, Value: gorm.Expr("usage_periods.operation_count + ?", delta.Operations)},
			{Column: clause.Column{Name: "cost_cents"}, Value: gorm.Expr("usage_periods.cost_cents + ?", delta.CostCents)},
			{Column: clause.Column{Name: "input_tokens"}, Value: gorm.Expr("usage_periods.input_tokens + ?", delta.InputTokens)},
			{Column: clause.Column{Name: "output_tokens"}, Value: gorm.Expr("usage_periods.output_tokens + ?", delta.OutputTokens)},
			{Column: clause.Column{Name: "updated_at"}, Value: now},
		},
	}
	if err := r.db.WithContext(ctx).Clauses(conflict).Create(&row).Error; err != nil {
		return nil, err
	}

	period, err := r.FindPeriod(ctx, userID, window.Start)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, errors.New("usage period missing after upsert")
	}
	return period, nil
}

// ClaimOperation records the operation key for its user. It returns false
// when that user already recorded the key, which callers treat as a retry of
// a charged operation.
func (r *repository) ClaimOperation(ctx context.Context, op *models.AIOperation) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "operation_key"}},
			DoNothing: true,
		}).
		Create(op)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindOperation(ctx context.Context, userID uuid.UUID, operationKey string) (*models.AIOperation, error) {
	var op models.AIOperation
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND operation_key = ?", userID, operationKey).
		First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

func (r *repository) FindPeriod(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.UsagePeriod, error) {
	var period models.UsagePeriod
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND period_start = ?", userID, periodStart).
		First(&period).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &period, nil
}

func (r *repository) ListPeriods(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsagePeriod, error) {
	if limit <= 0 {
		limit = 12
	}
	var periods []models.UsagePeriod
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("period_start DESC").
		Limit(limit).
		Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}

// DeleteOperationsBefore prunes operation log rows older than cutoff.
// Accumulators are untouched.
func (r *repository) DeleteOperationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.AIOperation{})
	return res.RowsAffected, res.Error
}
