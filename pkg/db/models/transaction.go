package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/enums"
)

// Transaction is an immutable billing event reported by the payment processor.
type Transaction struct {
	ID             uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID *uuid.UUID              `gorm:"column:subscription_id;type:uuid"`
	Type           enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	Status         enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	AmountCents    int64                   `gorm:"column:amount_cents;not null"`
	Currency       string                  `gorm:"column:currency;not null;default:'brl'"`
	ExternalID     string                  `gorm:"column:external_id;not null;unique"`
	Description    *string                 `gorm:"column:description"`
	Metadata       json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	OccurredAt     time.Time               `gorm:"column:occurred_at;not null"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "billing_transactions" }

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
