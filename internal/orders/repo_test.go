package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

// The order models carry postgres column types (uuid defaults, jsonb),
// so the sqlite fixtures are created with hand-written DDL instead of
// AutoMigrate.
const ordersTable = `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  business_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  order_number INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  delivery_mode TEXT NOT NULL DEFAULT 'pickup',
  payment_method TEXT NOT NULL DEFAULT 'cash',
  subtotal_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL DEFAULT 0,
  notes TEXT,
  cancel_reason TEXT,
  confirmed_at DATETIME,
  ready_at DATETIME,
  completed_at DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

const orderLineItemsTable = `
CREATE TABLE IF NOT EXISTS order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  qty INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  track_inventory INTEGER NOT NULL DEFAULT 0,
  variant_selections TEXT,
  note TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, ddl := range []string{ordersTable, orderLineItemsTable} {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create orders schema: %v", err)
		}
	}
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, businessID, customerID uuid.UUID, status enums.OrderStatus, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:         uuid.New(),
		BusinessID: businessID,
		CustomerID: customerID,
		Status:     status,
		CreatedAt:  createdAt,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestUpdateStatusGuarded(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusPending, time.Now())

	changed, err := repo.UpdateStatusGuarded(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusConfirmed, map[string]any{"confirmed_at": time.Now()})
	if err != nil {
		t.Fatalf("UpdateStatusGuarded: %v", err)
	}
	if !changed {
		t.Fatal("expected guard to match")
	}

	var got models.Order
	if err := db.First(&got, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.Status != enums.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if got.ConfirmedAt == nil {
		t.Fatal("expected confirmed_at set")
	}
}

func TestUpdateStatusGuardedStaleStatus(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusConfirmed, time.Now())

	changed, err := repo.UpdateStatusGuarded(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusConfirmed, nil)
	if err != nil {
		t.Fatalf("UpdateStatusGuarded: %v", err)
	}
	if changed {
		t.Fatal("stale guard must not match")
	}

	var got models.Order
	if err := db.First(&got, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.Status != enums.OrderStatusConfirmed {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
}

func TestListBusinessOrdersPagination(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	businessID := uuid.New()
	customerID := uuid.New()
	base := time.Now().Add(-time.Hour)
	seeded := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		order := seedOrder(t, db, businessID, customerID, enums.OrderStatusPending, base.Add(time.Duration(i)*time.Minute))
		seeded[order.ID] = true
	}
	seedOrder(t, db, uuid.New(), customerID, enums.OrderStatusPending, base)

	first, err := repo.ListBusinessOrders(ctx, businessID, pagination.Params{Limit: 3}, ListFilters{})
	if err != nil {
		t.Fatalf("ListBusinessOrders: %v", err)
	}
	if len(first.Orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(first.Orders))
	}
	if first.NextCursor == "" {
		t.Fatal("expected next cursor")
	}
	for i := 1; i < len(first.Orders); i++ {
		if first.Orders[i].CreatedAt.After(first.Orders[i-1].CreatedAt) {
			t.Fatal("orders must be newest first")
		}
	}

	second, err := repo.ListBusinessOrders(ctx, businessID, pagination.Params{Limit: 3, Cursor: first.NextCursor}, ListFilters{})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Orders) != 2 {
		t.Fatalf("expected 2 orders on second page, got %d", len(second.Orders))
	}
	if second.NextCursor != "" {
		t.Fatal("expected final page")
	}

	seen := map[uuid.UUID]bool{}
	for _, o := range append(first.Orders, second.Orders...) {
		if o.BusinessID != businessID {
			t.Fatal("foreign business order leaked into listing")
		}
		if seen[o.ID] {
			t.Fatalf("order %s returned twice", o.ID)
		}
		seen[o.ID] = true
	}
	for id := range seeded {
		if !seen[id] {
			t.Fatalf("order %s missing from paginated union", id)
		}
	}
}

func TestListBusinessOrdersStatusFilter(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	businessID := uuid.New()
	seedOrder(t, db, businessID, uuid.New(), enums.OrderStatusPending, time.Now())
	seedOrder(t, db, businessID, uuid.New(), enums.OrderStatusCompleted, time.Now())

	status := enums.OrderStatusCompleted
	list, err := repo.ListBusinessOrders(ctx, businessID, pagination.Params{}, ListFilters{Status: &status})
	if err != nil {
		t.Fatalf("ListBusinessOrders: %v", err)
	}
	if len(list.Orders) != 1 || list.Orders[0].Status != enums.OrderStatusCompleted {
		t.Fatalf("unexpected filter result: %+v", list.Orders)
	}
}
