package contacts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

// ContactFilters narrows contact listings.
type ContactFilters struct {
	Tag      *string
	OptedOut *bool
}

// ContactList is a cursor page of contacts.
type ContactList struct {
	Contacts   []models.Contact `json:"contacts"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// BroadcastList is a cursor page of broadcasts.
type BroadcastList struct {
	Broadcasts []models.Broadcast `json:"broadcasts"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// Repository defines persistence operations for the contact book and
// its broadcasts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateContact(ctx context.Context, contact *models.Contact) (*models.Contact, error)
	UpdateContact(ctx context.Context, contact *models.Contact) error
	DeleteContact(ctx context.Context, businessID, contactID uuid.UUID) error
	FindContact(ctx context.Context, contactID uuid.UUID) (*models.Contact, error)
	ListContacts(ctx context.Context, businessID uuid.UUID, params pagination.Params, filters ContactFilters) (*ContactList, error)
	ListReachableContacts(ctx context.Context, businessID uuid.UUID) ([]models.Contact, error)
	TouchContacts(ctx context.Context, contactIDs []uuid.UUID, at time.Time) error

	CreateBroadcast(ctx context.Context, broadcast *models.Broadcast) (*models.Broadcast, error)
	FindBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.Broadcast, error)
	ListBroadcasts(ctx context.Context, businessID uuid.UUID, params pagination.Params) (*BroadcastList, error)

	CreateReply(ctx context.Context, reply *models.BroadcastReply) (*models.BroadcastReply, error)
	ListReplies(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastReply, error)
	MarkReplyReadGuarded(ctx context.Context, replyID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateContact(ctx context.Context, contact *models.Contact) (*models.Contact, error) {
	if err := r.db.WithContext(ctx).Create(contact).Error; err != nil {
		return nil, err
	}
	return contact, nil
}

func (r *repository) UpdateContact(ctx context.Context, contact *models.Contact) error {
	return r.db.WithContext(ctx).Save(contact).Error
}

func (r *repository) DeleteContact(ctx context.Context, businessID, contactID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessID, contactID).
		Delete(&models.Contact{}).Error
}

func (r *repository) FindContact(ctx context.Context, contactID uuid.UUID) (*models.Contact, error) {
	var contact models.Contact
	err := r.db.WithContext(ctx).Where("id = ?", contactID).First(&contact).Error
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *repository) ListContacts(ctx context.Context, businessID uuid.UUID, params pagination.Params, filters ContactFilters) (*ContactList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Contact{}).
		Where("business_id = ?", businessID)
	if filters.OptedOut != nil {
		query = query.Where("opted_out = ?", *filters.OptedOut)
	}

	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Contact
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	// Tag membership is matched in-process so the same query runs on
	// both postgres and the sqlite test database.
	if filters.Tag != nil {
		filtered := rows[:0]
		for _, contact := range rows {
			if hasTag(contact.Tags, *filters.Tag) {
				filtered = append(filtered, contact)
			}
		}
		rows = filtered
	}

	list := &ContactList{Contacts: rows}
	if len(rows) > normalized {
		list.Contacts = rows[:normalized]
		last := list.Contacts[len(list.Contacts)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return list, nil
}

func (r *repository) ListReachableContacts(ctx context.Context, businessID uuid.UUID) ([]models.Contact, error) {
	var rows []models.Contact
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND opted_out = ?", businessID, false).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) TouchContacts(ctx context.Context, contactIDs []uuid.UUID, at time.Time) error {
	if len(contactIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Contact{}).
		Where("id IN ?", contactIDs).
		Update("last_contacted", at).Error
}

func (r *repository) CreateBroadcast(ctx context.Context, broadcast *models.Broadcast) (*models.Broadcast, error) {
	if err := r.db.WithContext(ctx).Create(broadcast).Error; err != nil {
		return nil, err
	}
	return broadcast, nil
}

func (r *repository) FindBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.Broadcast, error) {
	var broadcast models.Broadcast
	err := r.db.WithContext(ctx).Where("id = ?", broadcastID).First(&broadcast).Error
	if err != nil {
		return nil, err
	}
	return &broadcast, nil
}

func (r *repository) ListBroadcasts(ctx context.Context, businessID uuid.UUID, params pagination.Params) (*BroadcastList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Broadcast{}).
		Where("business_id = ?", businessID)

	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Broadcast
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	list := &BroadcastList{Broadcasts: rows}
	if len(rows) > normalized {
		list.Broadcasts = rows[:normalized]
		last := list.Broadcasts[len(list.Broadcasts)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return list, nil
}

func (r *repository) CreateReply(ctx context.Context, reply *models.BroadcastReply) (*models.BroadcastReply, error) {
	if err := r.db.WithContext(ctx).Create(reply).Error; err != nil {
		return nil, err
	}
	return reply, nil
}

func (r *repository) ListReplies(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastReply, error) {
	var rows []models.BroadcastReply
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkReplyReadGuarded(ctx context.Context, replyID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BroadcastReply{}).
		Where("id = ? AND read_at IS NULL", replyID).
		Update("read_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func hasTag(tags []string, tag string) bool {
	for _, candidate := range tags {
		if candidate == tag {
			return true
		}
	}
	return false
}
