package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// BillingPlan captures the catalog metadata for a plan tier. Limits
// live here so the plan table is the single source for quotas; the
// subscription row denormalizes them at assignment time.
type BillingPlan struct {
	Tier              enums.PlanTier  `gorm:"column:tier;type:text;primaryKey"`
	Name              string          `gorm:"column:name;not null"`
	PriceAmount       decimal.Decimal `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode      string          `gorm:"column:currency_code;not null;default:'USD'"`
	TrialDays         int             `gorm:"column:trial_days;not null;default:0"`
	GraceDays         int             `gorm:"column:grace_days;not null;default:0"`
	Seats             int             `gorm:"column:seats;not null;default:1"`
	LimitMessagesSent int64           `gorm:"column:limit_messages_sent;not null;default:0"`
	LimitToolCalls    int64           `gorm:"column:limit_tool_calls;not null;default:0"`
	LimitBroadcasts   int64           `gorm:"column:limit_broadcasts;not null;default:0"`
	LimitStorageMB    int64           `gorm:"column:limit_storage_mb;not null;default:0"`
	Features          pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	IsDefault         bool            `gorm:"column:is_default;not null;default:false"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
