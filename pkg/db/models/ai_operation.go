package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/enums"
)

// AIOperation is the append-only record of one charged AI call. Operation
// keys are client chosen, so they are unique per user only.
type AIOperation struct {
	ID            uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID             `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_ai_operations_user_key,priority:1"`
	UsagePeriodID *uuid.UUID            `gorm:"column:usage_period_id;type:uuid"`
	OperationKey  string                `gorm:"column:operation_key;not null;uniqueIndex:ux_ai_operations_user_key,priority:2"`
	Kind          enums.AIOperationKind `gorm:"column:kind;not null"`
	CostCents     int64                 `gorm:"column:cost_cents;not null;default:0"`
	InputTokens   int64                 `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens  int64                 `gorm:"column:output_tokens;not null;default:0"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (AIOperation) TableName() string { return "ai_operations" }

func (o *AIOperation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
