package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order placed against a business.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BusinessID  uuid.UUID `json:"business_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	OrderNumber int64     `json:"order_number"`
	TotalCents  int       `json:"total_cents"`
	ItemCount   int       `json:"item_count"`
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	BusinessID uuid.UUID         `json:"business_id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ChangedAt  time.Time         `json:"changed_at"`
}

// OrderCancelledEvent is emitted when an order reaches cancelled.
type OrderCancelledEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	BusinessID uuid.UUID         `json:"business_id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	From       enums.OrderStatus `json:"from"`
	Reason     string            `json:"reason,omitempty"`
	CanceledAt time.Time         `json:"canceled_at"`
}

// BroadcastSentEvent records a broadcast leaving the door.
type BroadcastSentEvent struct {
	BroadcastID    uuid.UUID `json:"broadcast_id"`
	BusinessID     uuid.UUID `json:"business_id"`
	RecipientCount int       `json:"recipient_count"`
	SentAt         time.Time `json:"sent_at"`
}

// BroadcastReplyReceivedEvent threads an inbound reply to its broadcast.
type BroadcastReplyReceivedEvent struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
	ReplyID     uuid.UUID `json:"reply_id"`
	BusinessID  uuid.UUID `json:"business_id"`
	ContactID   uuid.UUID `json:"contact_id"`
}

// SubscriptionStatusChangedEvent mirrors billing-driven lifecycle updates.
type SubscriptionStatusChangedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	BusinessID     uuid.UUID                `json:"business_id"`
	PlanTier       enums.PlanTier           `json:"plan_tier"`
	From           enums.SubscriptionStatus `json:"from"`
	To             enums.SubscriptionStatus `json:"to"`
}

// SubscriptionPeriodResetEvent is emitted when usage counters reset.
type SubscriptionPeriodResetEvent struct {
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	BusinessID     uuid.UUID      `json:"business_id"`
	PlanTier       enums.PlanTier `json:"plan_tier"`
	ResetAt        time.Time      `json:"reset_at"`
	NextRenewal    time.Time      `json:"next_renewal"`
}

// QuotaThresholdReachedEvent warns that a metric crossed a usage threshold.
type QuotaThresholdReachedEvent struct {
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	BusinessID     uuid.UUID         `json:"business_id"`
	Metric         enums.UsageMetric `json:"metric"`
	Usage          int64             `json:"usage"`
	Limit          int64             `json:"limit"`
	ThresholdPct   int               `json:"threshold_pct"`
}
