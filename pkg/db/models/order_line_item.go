package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem captures the snapshot of each item within an order.
// Price, name and the track-inventory flag are frozen at creation so
// later catalog edits never change what the customer agreed to.
type OrderLineItem struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID         uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	Name              string            `gorm:"column:name;not null"`
	UnitPriceCents    int               `gorm:"column:unit_price_cents;not null"`
	Qty               int               `gorm:"column:qty;not null"`
	TotalCents        int               `gorm:"column:total_cents;not null"`
	TrackInventory    bool              `gorm:"column:track_inventory;not null;default:false"`
	VariantSelections map[string]string `gorm:"column:variant_selections;type:jsonb;serializer:json"`
	Note              *string           `gorm:"column:note"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
