package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

// Repository exposes persistence helpers for notifications. Every query is
// scoped to a business so one tenant can never touch another's rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, query listQuery) ([]models.Notification, *pagination.Cursor, error)
	UnreadCount(ctx context.Context, businessID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error)
	Exists(ctx context.Context, businessID, notificationID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, businessID uuid.UUID, now time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listQuery struct {
	BusinessID uuid.UUID
	Limit      int
	After      *pagination.Cursor
	UnreadOnly bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) scoped(ctx context.Context, businessID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("business_id = ?", businessID)
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// List returns one page newest-first. It fetches one row past the page to
// know whether a next cursor exists.
func (r *repositoryImpl) List(ctx context.Context, query listQuery) ([]models.Notification, *pagination.Cursor, error) {
	page := pagination.NormalizeLimit(query.Limit)
	q := r.scoped(ctx, query.BusinessID)
	if query.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if query.After != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.After.CreatedAt, query.After.ID)
	}

	var rows []models.Notification
	if err := q.Order("created_at DESC, id DESC").Limit(page + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) <= page {
		return rows, nil, nil
	}

	rows = rows[:page]
	tail := rows[page-1]
	return rows, &pagination.Cursor{CreatedAt: tail.CreatedAt, ID: tail.ID}, nil
}

func (r *repositoryImpl) UnreadCount(ctx context.Context, businessID uuid.UUID) (int64, error) {
	var count int64
	err := r.scoped(ctx, businessID).Where("read_at IS NULL").Count(&count).Error
	return count, err
}

// MarkRead stamps read_at on an unread row and reports how many rows
// changed. An already-read or missing row yields zero.
func (r *repositoryImpl) MarkRead(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error) {
	result := r.scoped(ctx, businessID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", now)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) Exists(ctx context.Context, businessID, notificationID uuid.UUID) (bool, error) {
	var count int64
	err := r.scoped(ctx, businessID).Where("id = ?", notificationID).Count(&count).Error
	return count > 0, err
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, businessID uuid.UUID, now time.Time) (int64, error) {
	result := r.scoped(ctx, businessID).
		Where("read_at IS NULL").
		UpdateColumn("read_at", now)
	return result.RowsAffected, result.Error
}
