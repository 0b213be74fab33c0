package products

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type stubProductsRepo struct {
	product     *models.Product
	created     *models.Product
	updated     *models.Product
	variants    []models.ProductVariant
	guardResult bool
	guardCalls  int
	guardFrom   enums.ProductStatus
	guardTo     enums.ProductStatus
	findErr     error
}

func (s *stubProductsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubProductsRepo) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	s.created = product
	return product, nil
}

func (s *stubProductsRepo) Update(ctx context.Context, product *models.Product) error {
	s.updated = product
	return nil
}

func (s *stubProductsRepo) FindByID(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.product == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.product, nil
}

func (s *stubProductsRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID, params pagination.Params, filters ListFilters) (*ProductList, error) {
	var rows []models.Product
	if s.product != nil {
		if filters.Status == nil || s.product.Status == *filters.Status {
			rows = append(rows, *s.product)
		}
	}
	return &ProductList{Products: rows}, nil
}

func (s *stubProductsRepo) ReplaceVariants(ctx context.Context, productID uuid.UUID, variants []models.ProductVariant) error {
	s.variants = variants
	return nil
}

func (s *stubProductsRepo) UpdateStatusGuarded(ctx context.Context, productID uuid.UUID, from, to enums.ProductStatus) (bool, error) {
	s.guardCalls++
	s.guardFrom = from
	s.guardTo = to
	return s.guardResult, nil
}

type stubBusinessLoader struct {
	business *models.Business
}

func (s *stubBusinessLoader) FindBusiness(ctx context.Context, businessID uuid.UUID) (*models.Business, error) {
	if s.business == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.business, nil
}

type stockCall struct {
	productID uuid.UUID
	qty       int
}

type stubInventoryWriter struct {
	calls []stockCall
	err   error
}

func (s *stubInventoryWriter) SetAvailable(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, stockCall{productID: productID, qty: qty})
	return nil
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func vendorActor(businessID uuid.UUID) ActorContext {
	return ActorContext{
		UserID:     uuid.New(),
		BusinessID: &businessID,
		Role:       enums.ActorRoleVendor,
	}
}

func newCatalogService(t *testing.T, repo *stubProductsRepo, businesses *stubBusinessLoader, inventory *stubInventoryWriter) Service {
	t.Helper()
	svc, err := NewService(repo, &stubTxRunner{}, businesses, inventory)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected code %s, got %v", code, err)
	}
}

func TestCreateProductStartsAsDraft(t *testing.T) {
	businessID := uuid.New()
	repo := &stubProductsRepo{}
	businesses := &stubBusinessLoader{business: &models.Business{ID: businessID, IsActive: true}}
	inventory := &stubInventoryWriter{}
	svc := newCatalogService(t, repo, businesses, inventory)

	product, err := svc.Create(context.Background(), CreateInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Name:       "  Flat White  ",
		PriceCents: 450,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if product.Status != enums.ProductStatusDraft {
		t.Fatalf("expected draft status, got %s", product.Status)
	}
	if product.Name != "Flat White" {
		t.Fatalf("expected trimmed name, got %q", product.Name)
	}
	if len(inventory.calls) != 0 {
		t.Fatalf("expected no inventory writes for untracked product, got %d", len(inventory.calls))
	}
}

func TestCreateProductSeedsInitialStock(t *testing.T) {
	businessID := uuid.New()
	repo := &stubProductsRepo{}
	businesses := &stubBusinessLoader{business: &models.Business{ID: businessID, IsActive: true}}
	inventory := &stubInventoryWriter{}
	svc := newCatalogService(t, repo, businesses, inventory)

	stock := 12
	product, err := svc.Create(context.Background(), CreateInput{
		BusinessID:     businessID,
		Actor:          vendorActor(businessID),
		Name:           "Mug",
		PriceCents:     900,
		TrackInventory: true,
		InitialStock:   &stock,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(inventory.calls) != 1 {
		t.Fatalf("expected one inventory write, got %d", len(inventory.calls))
	}
	if inventory.calls[0].productID != product.ID || inventory.calls[0].qty != 12 {
		t.Fatalf("unexpected inventory call %+v", inventory.calls[0])
	}
}

func TestCreateProductDeactivatedBusiness(t *testing.T) {
	businessID := uuid.New()
	repo := &stubProductsRepo{}
	businesses := &stubBusinessLoader{business: &models.Business{ID: businessID, IsActive: false}}
	svc := newCatalogService(t, repo, businesses, &stubInventoryWriter{})

	_, err := svc.Create(context.Background(), CreateInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Name:       "Mug",
		PriceCents: 900,
	})
	assertCode(t, err, pkgerrors.CodeStateConflict)
	if repo.created != nil {
		t.Fatal("product should not have been created")
	}
}

func TestCreateProductForeignBusinessForbidden(t *testing.T) {
	businessID := uuid.New()
	repo := &stubProductsRepo{}
	businesses := &stubBusinessLoader{business: &models.Business{ID: businessID, IsActive: true}}
	svc := newCatalogService(t, repo, businesses, &stubInventoryWriter{})

	_, err := svc.Create(context.Background(), CreateInput{
		BusinessID: businessID,
		Actor:      vendorActor(uuid.New()),
		Name:       "Mug",
		PriceCents: 900,
	})
	assertCode(t, err, pkgerrors.CodeForbidden)
}

func TestCreateProductVariantValidation(t *testing.T) {
	businessID := uuid.New()
	businesses := &stubBusinessLoader{business: &models.Business{ID: businessID, IsActive: true}}
	svc := newCatalogService(t, &stubProductsRepo{}, businesses, &stubInventoryWriter{})

	_, err := svc.Create(context.Background(), CreateInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Name:       "Latte",
		PriceCents: 500,
		Variants: []VariantInput{{
			Name:            "size",
			Options:         []string{"small", "large"},
			PriceDeltaCents: []int64{0},
		}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestUpdateProductPartialFields(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Name:       "Latte",
		PriceCents: 500,
		Status:     enums.ProductStatusActive,
	}
	repo := &stubProductsRepo{product: existing}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	price := 550
	product, err := svc.Update(context.Background(), UpdateInput{
		ProductID:  existing.ID,
		Actor:      vendorActor(businessID),
		PriceCents: &price,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if product.PriceCents != 550 {
		t.Fatalf("expected price 550, got %d", product.PriceCents)
	}
	if product.Name != "Latte" {
		t.Fatalf("name should be untouched, got %q", product.Name)
	}
	if repo.updated == nil {
		t.Fatal("expected repository update")
	}
}

func TestUpdateProductEnablesTracking(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Name:       "Latte",
		Status:     enums.ProductStatusActive,
	}
	repo := &stubProductsRepo{product: existing}
	inventory := &stubInventoryWriter{}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, inventory)

	track := true
	_, err := svc.Update(context.Background(), UpdateInput{
		ProductID:      existing.ID,
		Actor:          vendorActor(businessID),
		TrackInventory: &track,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(inventory.calls) != 1 || inventory.calls[0].qty != 0 {
		t.Fatalf("expected zero-stock inventory row, got %+v", inventory.calls)
	}
}

func TestUpdateProductReplacesVariants(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{ID: uuid.New(), BusinessID: businessID, Name: "Latte"}
	repo := &stubProductsRepo{product: existing}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	_, err := svc.Update(context.Background(), UpdateInput{
		ProductID: existing.ID,
		Actor:     vendorActor(businessID),
		Variants: []VariantInput{{
			Name:    "milk",
			Options: []string{"oat", "whole"},
		}},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(repo.variants) != 1 || repo.variants[0].Name != "milk" {
		t.Fatalf("expected replaced variants, got %+v", repo.variants)
	}
}

func TestSetStatusPublishDraft(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Status:     enums.ProductStatusDraft,
	}
	repo := &stubProductsRepo{product: existing, guardResult: true}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	product, err := svc.SetStatus(context.Background(), vendorActor(businessID), existing.ID, enums.ProductStatusActive)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if product.Status != enums.ProductStatusActive {
		t.Fatalf("expected active, got %s", product.Status)
	}
	if repo.guardFrom != enums.ProductStatusDraft || repo.guardTo != enums.ProductStatusActive {
		t.Fatalf("unexpected guard %s -> %s", repo.guardFrom, repo.guardTo)
	}
}

func TestSetStatusArchivedBackToDraftRejected(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Status:     enums.ProductStatusArchived,
	}
	repo := &stubProductsRepo{product: existing, guardResult: true}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	_, err := svc.SetStatus(context.Background(), vendorActor(businessID), existing.ID, enums.ProductStatusDraft)
	assertCode(t, err, pkgerrors.CodeStateConflict)
	if repo.guardCalls != 0 {
		t.Fatal("guard should not run for an illegal change")
	}
}

func TestSetStatusConcurrentLoser(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Status:     enums.ProductStatusActive,
	}
	repo := &stubProductsRepo{product: existing, guardResult: false}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	_, err := svc.SetStatus(context.Background(), vendorActor(businessID), existing.ID, enums.ProductStatusArchived)
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestSetStockRequiresTracking(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:             uuid.New(),
		BusinessID:     businessID,
		TrackInventory: false,
	}
	repo := &stubProductsRepo{product: existing}
	inventory := &stubInventoryWriter{}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, inventory)

	err := svc.SetStock(context.Background(), vendorActor(businessID), existing.ID, 5)
	assertCode(t, err, pkgerrors.CodeStateConflict)
	if len(inventory.calls) != 0 {
		t.Fatal("inventory should not have been written")
	}
}

func TestSetStockWritesInventory(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:             uuid.New(),
		BusinessID:     businessID,
		TrackInventory: true,
	}
	repo := &stubProductsRepo{product: existing}
	inventory := &stubInventoryWriter{}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, inventory)

	if err := svc.SetStock(context.Background(), vendorActor(businessID), existing.ID, 7); err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	if len(inventory.calls) != 1 || inventory.calls[0].qty != 7 {
		t.Fatalf("unexpected inventory calls %+v", inventory.calls)
	}
}

func TestGetHidesDraftFromCustomers(t *testing.T) {
	businessID := uuid.New()
	existing := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Status:     enums.ProductStatusDraft,
	}
	repo := &stubProductsRepo{product: existing}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	customer := ActorContext{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	_, err := svc.Get(context.Background(), customer, existing.ID)
	assertCode(t, err, pkgerrors.CodeNotFound)

	if _, err := svc.Get(context.Background(), vendorActor(businessID), existing.ID); err != nil {
		t.Fatalf("vendor should see own draft: %v", err)
	}
}

func TestListForcesActiveFilterForCustomers(t *testing.T) {
	businessID := uuid.New()
	draft := &models.Product{
		ID:         uuid.New(),
		BusinessID: businessID,
		Status:     enums.ProductStatusDraft,
	}
	repo := &stubProductsRepo{product: draft}
	svc := newCatalogService(t, repo, &stubBusinessLoader{}, &stubInventoryWriter{})

	customer := ActorContext{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	list, err := svc.List(context.Background(), customer, businessID, pagination.Params{}, ListFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Products) != 0 {
		t.Fatalf("customer should not see drafts, got %d products", len(list.Products))
	}

	ownerList, err := svc.List(context.Background(), vendorActor(businessID), businessID, pagination.Params{}, ListFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ownerList.Products) != 1 {
		t.Fatalf("vendor should see drafts, got %d products", len(ownerList.Products))
	}
}
