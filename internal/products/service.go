package products

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type businessLoader interface {
	FindBusiness(ctx context.Context, businessID uuid.UUID) (*models.Business, error)
}

type inventoryWriter interface {
	SetAvailable(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// ActorContext identifies who is performing an operation.
type ActorContext struct {
	UserID     uuid.UUID
	BusinessID *uuid.UUID
	Role       enums.ActorRole
}

// VariantInput describes one option axis on a product.
type VariantInput struct {
	Name            string
	Options         []string
	PriceDeltaCents []int64
}

// CreateInput carries everything needed to add a catalog entry.
type CreateInput struct {
	BusinessID     uuid.UUID
	Actor          ActorContext
	Name           string
	Description    *string
	Category       *string
	PriceCents     int
	TrackInventory bool
	ImageURLs      []string
	Variants       []VariantInput
	InitialStock   *int
}

// UpdateInput mutates an existing product. Nil fields are left unchanged.
type UpdateInput struct {
	ProductID      uuid.UUID
	Actor          ActorContext
	Name           *string
	Description    *string
	Category       *string
	PriceCents     *int
	TrackInventory *bool
	ImageURLs      []string
	Variants       []VariantInput
}

// Service defines catalog operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Product, error)
	Update(ctx context.Context, input UpdateInput) (*models.Product, error)
	SetStatus(ctx context.Context, actor ActorContext, productID uuid.UUID, to enums.ProductStatus) (*models.Product, error)
	SetStock(ctx context.Context, actor ActorContext, productID uuid.UUID, qty int) error
	Get(ctx context.Context, actor ActorContext, productID uuid.UUID) (*models.Product, error)
	List(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params, filters ListFilters) (*ProductList, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	businesses businessLoader
	inventory  inventoryWriter
}

func NewService(repo Repository, tx txRunner, businesses businessLoader, inventory inventoryWriter) (Service, error) {
	if repo == nil {
		return nil, errors.New("repository required")
	}
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if businesses == nil {
		return nil, errors.New("business loader required")
	}
	if inventory == nil {
		return nil, errors.New("inventory writer required")
	}
	return &service{repo: repo, tx: tx, businesses: businesses, inventory: inventory}, nil
}

var productTransitions = map[enums.ProductStatus][]enums.ProductStatus{
	enums.ProductStatusDraft:    {enums.ProductStatusActive, enums.ProductStatusArchived},
	enums.ProductStatusActive:   {enums.ProductStatusArchived},
	enums.ProductStatusArchived: {enums.ProductStatusActive},
}

func canChangeStatus(from, to enums.ProductStatus) bool {
	for _, candidate := range productTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Product, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !actorManagesBusiness(input.Actor, input.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product name required")
	}
	if input.PriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price may not be negative")
	}
	if input.InitialStock != nil && *input.InitialStock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initial stock may not be negative")
	}
	variants, err := buildVariants(input.Variants)
	if err != nil {
		return nil, err
	}

	business, err := s.businesses.FindBusiness(ctx, input.BusinessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}
	if !business.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "business is deactivated")
	}

	var created *models.Product
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		product := &models.Product{
			BusinessID:     input.BusinessID,
			Name:           strings.TrimSpace(input.Name),
			Description:    input.Description,
			Category:       input.Category,
			PriceCents:     input.PriceCents,
			Status:         enums.ProductStatusDraft,
			TrackInventory: input.TrackInventory,
			ImageURLs:      input.ImageURLs,
			Variants:       variants,
		}
		if product.ID == uuid.Nil {
			product.ID = uuid.New()
		}
		if _, err := repo.Create(ctx, product); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
		}

		if input.TrackInventory {
			qty := 0
			if input.InitialStock != nil {
				qty = *input.InitialStock
			}
			if err := s.inventory.SetAvailable(ctx, tx, product.ID, qty); err != nil {
				return err
			}
		}

		created = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.Product, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	var variants []models.ProductVariant
	if input.Variants != nil {
		built, err := buildVariants(input.Variants)
		if err != nil {
			return nil, err
		}
		variants = built
	}

	var updated *models.Product
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		product, err := repo.FindByID(ctx, input.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		if !actorManagesBusiness(input.Actor, product.BusinessID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "product not accessible")
		}

		if input.Name != nil {
			if strings.TrimSpace(*input.Name) == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "product name required")
			}
			product.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			product.Description = input.Description
		}
		if input.Category != nil {
			product.Category = input.Category
		}
		if input.PriceCents != nil {
			if *input.PriceCents < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "price may not be negative")
			}
			product.PriceCents = *input.PriceCents
		}
		if input.TrackInventory != nil {
			// Turning tracking on late needs an inventory row so
			// reservation has something to decrement.
			if *input.TrackInventory && !product.TrackInventory {
				if err := s.inventory.SetAvailable(ctx, tx, product.ID, 0); err != nil {
					return err
				}
			}
			product.TrackInventory = *input.TrackInventory
		}
		if input.ImageURLs != nil {
			product.ImageURLs = input.ImageURLs
		}

		if err := repo.Update(ctx, product); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product")
		}
		if input.Variants != nil {
			if err := repo.ReplaceVariants(ctx, product.ID, variants); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace variants")
			}
			product.Variants = variants
		}

		updated = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) SetStatus(ctx context.Context, actor ActorContext, productID uuid.UUID, to enums.ProductStatus) (*models.Product, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !actorManagesBusiness(actor, product.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "product not accessible")
	}
	if product.Status == to {
		return product, nil
	}
	if !canChangeStatus(product.Status, to) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"cannot move product from "+product.Status.String()+" to "+to.String())
	}

	changed, err := s.repo.UpdateStatusGuarded(ctx, productID, product.Status, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product status")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "product changed concurrently")
	}
	product.Status = to
	return product, nil
}

func (s *service) SetStock(ctx context.Context, actor ActorContext, productID uuid.UUID, qty int) error {
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock may not be negative")
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !actorManagesBusiness(actor, product.BusinessID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "product not accessible")
	}
	if !product.TrackInventory {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "product does not track inventory")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.inventory.SetAvailable(ctx, tx, productID, qty)
	})
}

func (s *service) Get(ctx context.Context, actor ActorContext, productID uuid.UUID) (*models.Product, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product.Status != enums.ProductStatusActive && !actorManagesBusiness(actor, product.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return product, nil
}

func (s *service) List(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params, filters ListFilters) (*ProductList, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	// Shoppers only ever see the live catalog.
	if !actorManagesBusiness(actor, businessID) {
		active := enums.ProductStatusActive
		filters.Status = &active
	}
	list, err := s.repo.ListByBusiness(ctx, businessID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return list, nil
}

func buildVariants(inputs []VariantInput) ([]models.ProductVariant, error) {
	variants := make([]models.ProductVariant, 0, len(inputs))
	for _, v := range inputs {
		if strings.TrimSpace(v.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant name required")
		}
		if len(v.Options) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant needs at least one option")
		}
		if len(v.PriceDeltaCents) > 0 && len(v.PriceDeltaCents) != len(v.Options) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant price deltas must match options")
		}
		variants = append(variants, models.ProductVariant{
			Name:            strings.TrimSpace(v.Name),
			Options:         v.Options,
			PriceDeltaCents: v.PriceDeltaCents,
		})
	}
	return variants, nil
}

func actorManagesBusiness(actor ActorContext, businessID uuid.UUID) bool {
	if actor.Role == enums.ActorRoleAdmin {
		return true
	}
	return actor.Role == enums.ActorRoleVendor &&
		actor.BusinessID != nil &&
		*actor.BusinessID == businessID
}
