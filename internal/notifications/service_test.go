package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	paginationpkg "github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type fakeRepository struct {
	listFn        func(ctx context.Context, query listQuery) ([]models.Notification, *paginationpkg.Cursor, error)
	unreadFn      func(ctx context.Context, businessID uuid.UUID) (int64, error)
	markReadFn    func(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error)
	existsFn      func(ctx context.Context, businessID, notificationID uuid.UUID) (bool, error)
	markAllReadFn func(ctx context.Context, businessID uuid.UUID, now time.Time) (int64, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	return nil
}

func (f *fakeRepository) List(ctx context.Context, query listQuery) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, query)
	}
	return nil, nil, nil
}

func (f *fakeRepository) UnreadCount(ctx context.Context, businessID uuid.UUID) (int64, error) {
	if f.unreadFn != nil {
		return f.unreadFn(ctx, businessID)
	}
	return 0, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, businessID, notificationID, now)
	}
	return 0, nil
}

func (f *fakeRepository) Exists(ctx context.Context, businessID, notificationID uuid.UUID) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, businessID, notificationID)
	}
	return false, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, businessID uuid.UUID, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, businessID, now)
	}
	return 0, nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo)
	return svc
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	second := models.Notification{ID: uuid.New(), CreatedAt: time.Now()}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, query listQuery) ([]models.Notification, *paginationpkg.Cursor, error) {
			if query.Limit != 1 {
				t.Fatalf("unexpected limit %d", query.Limit)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{CreatedAt: second.CreatedAt, ID: second.ID}, nil
		},
		unreadFn: func(ctx context.Context, businessID uuid.UUID) (int64, error) {
			return 4, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{BusinessID: uuid.New(), Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	if result.UnreadCount != 4 {
		t.Fatalf("expected unread count 4, got %d", result.UnreadCount)
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != second.ID {
		t.Fatalf("expected cursor id %s got %s", second.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{BusinessID: uuid.New(), Cursor: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
	errCode := pkgerrors.As(err).Code()
	if errCode != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s", errCode)
	}
}

func TestService_MarkRead(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error) {
			return 1, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
}

func TestService_MarkReadAlreadyReadIsNoop(t *testing.T) {
	existsCalled := false
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error) {
			return 0, nil
		},
		existsFn: func(ctx context.Context, businessID, notificationID uuid.UUID) (bool, error) {
			existsCalled = true
			return true, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("expected noop for already read row, got %v", err)
	}
	if !existsCalled {
		t.Fatal("expected existence check after zero-row update")
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, businessID, notificationID uuid.UUID, now time.Time) (int64, error) {
			return 0, nil
		},
		existsFn: func(ctx context.Context, businessID, notificationID uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected not found error")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkAllRead(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, businessID uuid.UUID, now time.Time) (int64, error) {
			return 3, nil
		},
	}
	svc := newServiceWithRepo(repo)
	count, err := svc.MarkAllRead(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected mark all read error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 updated rows, got %d", count)
	}
}

func TestService_MarkAllReadError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, businessID uuid.UUID, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	}
	svc := newServiceWithRepo(repo)
	if _, err := svc.MarkAllRead(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error")
	}
}
