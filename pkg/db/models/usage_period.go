package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsagePeriod accumulates a user's AI consumption for one usage window.
// A new row supersedes the previous one when the window rolls over.
type UsagePeriod struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_usage_periods_user_start"`
	PeriodStart    time.Time `gorm:"column:period_start;not null;uniqueIndex:ux_usage_periods_user_start"`
	PeriodEnd      time.Time `gorm:"column:period_end;not null"`
	OperationCount int       `gorm:"column:operation_count;not null;default:0"`
	CostCents      int64     `gorm:"column:cost_cents;not null;default:0"`
	InputTokens    int64     `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens   int64     `gorm:"column:output_tokens;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *UsagePeriod) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
