package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Order is a customer order placed against a business. Status moves
// through the lifecycle via guarded transitions only.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID    uuid.UUID           `gorm:"column:business_id;type:uuid;not null;index"`
	CustomerID    uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	OrderNumber   int64               `gorm:"column:order_number;not null"`
	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	DeliveryMode  enums.DeliveryMode  `gorm:"column:delivery_mode;type:text;not null;default:'pickup'"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'cash'"`
	SubtotalCents int                 `gorm:"column:subtotal_cents;not null"`
	TotalCents    int                 `gorm:"column:total_cents;not null"`
	Notes         *string             `gorm:"column:notes"`
	CancelReason  *string             `gorm:"column:cancel_reason"`
	Items         []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ConfirmedAt   *time.Time          `gorm:"column:confirmed_at"`
	ReadyAt       *time.Time          `gorm:"column:ready_at"`
	CompletedAt   *time.Time          `gorm:"column:completed_at"`
	CanceledAt    *time.Time          `gorm:"column:canceled_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
