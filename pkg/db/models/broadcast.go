package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Broadcast is a message sent by a business to a tagged segment of
// its contact book. Sending one consumes the broadcasts quota metric.
type Broadcast struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID     uuid.UUID             `gorm:"column:business_id;type:uuid;not null;index"`
	Subject        string                `gorm:"column:subject;type:text;not null"`
	Body           string                `gorm:"column:body;type:text;not null"`
	SegmentTags    pq.StringArray        `gorm:"column:segment_tags;type:text[];default:ARRAY[]::text[]"`
	Status         enums.BroadcastStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	RecipientCount int                   `gorm:"column:recipient_count;not null;default:0"`
	SentAt         *time.Time            `gorm:"column:sent_at"`
	Replies        []BroadcastReply      `gorm:"foreignKey:BroadcastID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// BroadcastReply is an inbound reply threaded onto a broadcast.
type BroadcastReply struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BroadcastID uuid.UUID  `gorm:"column:broadcast_id;type:uuid;not null;index"`
	ContactID   uuid.UUID  `gorm:"column:contact_id;type:uuid;not null;index"`
	Body        string     `gorm:"column:body;type:text;not null"`
	ReadAt      *time.Time `gorm:"column:read_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
