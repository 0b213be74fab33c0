package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Contact is an addressable customer record in a business's book.
// Email and phone are each unique within a business when present.
type Contact struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID    uuid.UUID      `gorm:"column:business_id;type:uuid;not null;index;uniqueIndex:idx_contacts_business_email;uniqueIndex:idx_contacts_business_phone"`
	Name          string         `gorm:"column:name;type:text;not null"`
	Email         *string        `gorm:"column:email;uniqueIndex:idx_contacts_business_email"`
	Phone         *string        `gorm:"column:phone;uniqueIndex:idx_contacts_business_phone"`
	Tags          pq.StringArray `gorm:"column:tags;type:text[];default:ARRAY[]::text[]"`
	OptedOut      bool           `gorm:"column:opted_out;not null;default:false"`
	LastContacted *time.Time     `gorm:"column:last_contacted"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
