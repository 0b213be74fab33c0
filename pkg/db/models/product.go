package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Product is the sellable catalog entry for a business.
type Product struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID     uuid.UUID           `gorm:"column:business_id;type:uuid;not null;index"`
	Name           string              `gorm:"column:name;type:text;not null"`
	Description    *string             `gorm:"column:description;type:text"`
	Category       *string             `gorm:"column:category"`
	PriceCents     int                 `gorm:"column:price_cents;not null"`
	Status         enums.ProductStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	TrackInventory bool                `gorm:"column:track_inventory;not null;default:false"`
	ImageURLs      pq.StringArray      `gorm:"column:image_urls;type:text[]"`
	Variants       []ProductVariant    `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	Inventory      *InventoryItem      `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// ProductVariant is a named option axis on a product, e.g. "size" with
// values small/medium/large and optional per-value price deltas.
type ProductVariant struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID       uuid.UUID      `gorm:"column:product_id;type:uuid;not null;index"`
	Name            string         `gorm:"column:name;type:text;not null"`
	Options         pq.StringArray `gorm:"column:options;type:text[];not null"`
	PriceDeltaCents []int64        `gorm:"column:price_delta_cents;type:bigint[];serializer:json"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
