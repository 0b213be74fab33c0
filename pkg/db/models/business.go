package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Business is the tenant root. Every order, product, contact and
// subscription hangs off a business.
type Business struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID     uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;index"`
	Name        string          `gorm:"column:name;type:text;not null"`
	Slug        string          `gorm:"column:slug;type:text;not null;uniqueIndex"`
	Description *string         `gorm:"column:description;type:text"`
	Phone       *string         `gorm:"column:phone"`
	Email       *string         `gorm:"column:email"`
	Address     *string         `gorm:"column:address;type:text"`
	Timezone    string          `gorm:"column:timezone;type:text;not null;default:'UTC'"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true"`
	Settings    json.RawMessage `gorm:"column:settings;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
