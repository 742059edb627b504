package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// UnlimitedQuota marks a plan cap that never blocks usage.
const UnlimitedQuota = -1

// BillingPlan is an immutable catalog entry describing a subscription tier.
type BillingPlan struct {
	ID                    string          `gorm:"column:id;primaryKey"`
	Name                  string          `gorm:"column:name;not null"`
	Description           string          `gorm:"column:description;not null;default:''"`
	MonthlyPrice          decimal.Decimal `gorm:"column:monthly_price;type:numeric(12,2);not null"`
	YearlyPrice           decimal.Decimal `gorm:"column:yearly_price;type:numeric(12,2);not null"`
	CurrencyCode          string          `gorm:"column:currency_code;not null;default:'BRL'"`
	Features              pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	MaxOperationsPerMonth int             `gorm:"column:max_operations_per_month;not null"`
	MaxAICostPerMonth     int64           `gorm:"column:max_ai_cost_per_month;not null"`
	IsActive              bool            `gorm:"column:is_active;not null;default:true"`
	SortOrder             int             `gorm:"column:sort_order;not null;default:0"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// UnlimitedOperations reports whether the plan never caps AI operations.
func (p BillingPlan) UnlimitedOperations() bool {
	return p.MaxOperationsPerMonth == UnlimitedQuota
}
