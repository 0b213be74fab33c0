package businesses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
)

// The business model carries postgres column types (uuid defaults,
// jsonb), so the sqlite fixture is created with hand-written DDL
// instead of AutoMigrate.
const businessesTable = `
CREATE TABLE IF NOT EXISTS businesses (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL,
  slug TEXT NOT NULL UNIQUE,
  description TEXT,
  phone TEXT,
  email TEXT,
  address TEXT,
  timezone TEXT NOT NULL DEFAULT 'UTC',
  is_active INTEGER NOT NULL DEFAULT 1,
  settings TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:businesses_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.Exec(businessesTable).Error; err != nil {
		t.Fatalf("create businesses schema: %v", err)
	}
	return conn
}

func seedBusiness(t *testing.T, conn *gorm.DB, slug string, active bool) *models.Business {
	t.Helper()
	business := &models.Business{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		Name:     "seed",
		Slug:     slug,
		Timezone: "UTC",
		IsActive: active,
	}
	if err := conn.Create(business).Error; err != nil {
		t.Fatalf("seed business: %v", err)
	}
	return business
}

func TestSlugUniqueViolation(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	seedBusiness(t, conn, "corner-cafe", true)

	_, err := repo.Create(ctx, &models.Business{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		Name:     "imposter",
		Slug:     "corner-cafe",
		Timezone: "UTC",
	})
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !db.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestSetActiveGuarded(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	business := seedBusiness(t, conn, "toggle-me", true)

	changed, err := repo.SetActiveGuarded(ctx, business.ID, false)
	if err != nil {
		t.Fatalf("SetActiveGuarded: %v", err)
	}
	if !changed {
		t.Fatal("expected guard to match")
	}

	// Deactivating again must miss the guard.
	changed, err = repo.SetActiveGuarded(ctx, business.ID, false)
	if err != nil {
		t.Fatalf("SetActiveGuarded: %v", err)
	}
	if changed {
		t.Fatal("repeat deactivation should not match")
	}

	got, err := repo.FindByID(ctx, business.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.IsActive {
		t.Fatal("expected business to be inactive")
	}
}

func TestFindBySlug(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	business := seedBusiness(t, conn, "find-me", true)
	seedBusiness(t, conn, "other", true)

	got, err := repo.FindBySlug(ctx, "find-me")
	if err != nil {
		t.Fatalf("FindBySlug: %v", err)
	}
	if got.ID != business.ID {
		t.Fatal("wrong business returned")
	}

	if _, err := repo.FindBySlug(ctx, "missing"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	first := seedBusiness(t, conn, "owner-first", true)
	second := &models.Business{
		ID:       uuid.New(),
		OwnerID:  first.OwnerID,
		Name:     "second",
		Slug:     "owner-second",
		Timezone: "UTC",
	}
	if err := conn.Create(second).Error; err != nil {
		t.Fatalf("seed second business: %v", err)
	}
	seedBusiness(t, conn, "foreign", true)

	rows, err := repo.ListByOwner(ctx, first.OwnerID)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 businesses, got %d", len(rows))
	}
}
