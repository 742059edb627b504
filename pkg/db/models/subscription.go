package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/enums"
)

// Subscription binds a user to a plan. Rows are never deleted; terminal
// states are kept for history.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	BillingCycle         enums.BillingCycle       `gorm:"column:billing_cycle;type:billing_cycle;not null;default:'monthly'"`
	StartDate            time.Time                `gorm:"column:start_date;not null"`
	NextBillingDate      time.Time                `gorm:"column:next_billing_date;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt          *time.Time               `gorm:"column:cancelled_at"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;unique"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
