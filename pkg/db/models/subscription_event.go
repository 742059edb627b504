package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/enums"
)

// SubscriptionEvent is an append-only audit entry for subscription changes.
type SubscriptionEvent struct {
	ID             uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID                   `gorm:"column:subscription_id;type:uuid;not null;index"`
	UserID         uuid.UUID                   `gorm:"column:user_id;type:uuid;not null"`
	Type           enums.SubscriptionEventType `gorm:"column:type;not null"`
	Actor          enums.EventActor            `gorm:"column:actor;not null"`
	Reason         *string                     `gorm:"column:reason"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (e *SubscriptionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
