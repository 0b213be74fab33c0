package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Notification stores in-app notification payloads scoped to businesses.
type Notification struct {
	ID         uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID uuid.UUID              `gorm:"column:business_id;type:uuid;not null;index"`
	Type       enums.NotificationType `gorm:"column:type;type:text;not null"`
	Title      string                 `gorm:"column:title;type:text;not null"`
	Message    string                 `gorm:"column:message;type:text;not null"`
	Link       *string                `gorm:"column:link;type:text"`
	ReadAt     *time.Time             `gorm:"column:read_at"`
	CreatedAt  time.Time              `gorm:"column:created_at;autoCreateTime"`
}
