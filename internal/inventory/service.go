package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
)

// Service adjusts stock counts with write-time guards. Both operations
// run inside the caller's transaction so order creation and stock
// movement commit or roll back together.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Available(ctx context.Context, productID uuid.UUID) (int, error)
	SetAvailable(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type service struct {
	db *gorm.DB
}

// NewService builds an inventory service bound to the provided DB.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle required")
	}
	return &service{db: db}, nil
}

// Reserve decrements available stock. The decrement is guarded by the
// current count so two concurrent orders can never both take the last
// unit; the loser sees zero rows affected.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}

	result := tx.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ? AND available_qty >= ?", productID, qty).
		UpdateColumn("available_qty", gorm.Expr("available_qty - ?", qty))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "reserve inventory")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"product_id": productID, "requested_qty": qty})
	}
	return nil
}

// Release returns stock after a cancellation.
func (s *service) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}

	result := tx.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ?", productID).
		UpdateColumn("available_qty", gorm.Expr("available_qty + ?", qty))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "release inventory")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
	}
	return nil
}

// Available returns the current stock count for a product.
func (s *service) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	var item models.InventoryItem
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	return item.AvailableQty, nil
}

// SetAvailable upserts the absolute stock count, used by catalog edits.
func (s *service) SetAvailable(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be non-negative")
	}

	item := models.InventoryItem{ProductID: productID, AvailableQty: qty}
	err := tx.WithContext(ctx).
		Where("product_id = ?", productID).
		Assign(map[string]any{"available_qty": qty}).
		FirstOrCreate(&item).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set inventory")
	}
	return nil
}
