package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Subscription persists the plan, lifecycle state and usage counters
// for a business. One row per business; counters are mutated only by
// guarded conditional updates.
type Subscription struct {
	ID         uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID uuid.UUID                `gorm:"column:business_id;type:uuid;not null;uniqueIndex"`
	PlanTier   enums.PlanTier           `gorm:"column:plan_tier;type:text;not null;default:'free'"`
	Status     enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'active'"`

	UsageMessagesSent int64 `gorm:"column:usage_messages_sent;not null;default:0"`
	UsageToolCalls    int64 `gorm:"column:usage_tool_calls;not null;default:0"`
	UsageBroadcasts   int64 `gorm:"column:usage_broadcasts;not null;default:0"`
	UsageStorageMB    int64 `gorm:"column:usage_storage_mb;not null;default:0"`

	LimitMessagesSent int64 `gorm:"column:limit_messages_sent;not null;default:0"`
	LimitToolCalls    int64 `gorm:"column:limit_tool_calls;not null;default:0"`
	LimitBroadcasts   int64 `gorm:"column:limit_broadcasts;not null;default:0"`
	LimitStorageMB    int64 `gorm:"column:limit_storage_mb;not null;default:0"`

	StartsAt    time.Time       `gorm:"column:starts_at;not null"`
	RenewsAt    time.Time       `gorm:"column:renews_at;not null"`
	EndsAt      *time.Time      `gorm:"column:ends_at"`
	CanceledAt  *time.Time      `gorm:"column:canceled_at"`
	LastResetAt *time.Time      `gorm:"column:last_reset_at"`
	Metadata    json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// UsageFor returns the counter value for the given metric.
func (s *Subscription) UsageFor(metric enums.UsageMetric) int64 {
	switch metric {
	case enums.UsageMetricMessagesSent:
		return s.UsageMessagesSent
	case enums.UsageMetricToolCalls:
		return s.UsageToolCalls
	case enums.UsageMetricBroadcasts:
		return s.UsageBroadcasts
	case enums.UsageMetricStorageMB:
		return s.UsageStorageMB
	}
	return 0
}

// LimitFor returns the plan limit for the given metric.
func (s *Subscription) LimitFor(metric enums.UsageMetric) int64 {
	switch metric {
	case enums.UsageMetricMessagesSent:
		return s.LimitMessagesSent
	case enums.UsageMetricToolCalls:
		return s.LimitToolCalls
	case enums.UsageMetricBroadcasts:
		return s.LimitBroadcasts
	case enums.UsageMetricStorageMB:
		return s.LimitStorageMB
	}
	return 0
}
