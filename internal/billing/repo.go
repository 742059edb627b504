package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
	"github.com/dissertia/dissertia-api/pkg/pagination"
)

// Repository handles subscription and billing ledger persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindLatestSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindLiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	AppendEvent(ctx context.Context, event *models.SubscriptionEvent) error
	ListEvents(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransactionByExternalID(ctx context.Context, externalID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, params ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindLatestSubscription returns the user's most recent subscription in any status.
func (r *repository) FindLatestSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindLiveSubscription returns the active, trial or paused subscription, if any.
func (r *repository) FindLiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrial,
		enums.SubscriptionStatusPaused,
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, statuses).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListDueSubscriptions returns active or trial subscriptions whose billing date has passed.
func (r *repository) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrial,
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND next_billing_date <= ?", statuses, now.UTC()).
		Order("next_billing_date ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error) {
	var events []models.SubscriptionEvent
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransactionByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

type ListTransactionsQuery struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
	Type   *enums.TransactionType
}

func (r *repository) ListTransactions(ctx context.Context, params ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", params.UserID)
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var txns []models.Transaction
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&txns).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(txns, limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, next, nil
}
