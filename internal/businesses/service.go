package businesses

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type subscriptionCreator interface {
	CreateForBusiness(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error)
}

// ActorContext identifies who is performing an operation.
type ActorContext struct {
	UserID     uuid.UUID
	BusinessID *uuid.UUID
	Role       enums.ActorRole
}

// CreateInput carries everything needed to open a business.
type CreateInput struct {
	Actor       ActorContext
	Name        string
	Slug        string
	Description *string
	Phone       *string
	Email       *string
	Address     *string
	Timezone    string
	PlanTier    enums.PlanTier
	Settings    json.RawMessage
}

// UpdateInput mutates business profile fields. Nil fields are left unchanged.
type UpdateInput struct {
	BusinessID  uuid.UUID
	Actor       ActorContext
	Name        *string
	Description *string
	Phone       *string
	Email       *string
	Address     *string
	Timezone    *string
	Settings    json.RawMessage
}

// Service exposes business tenant operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Business, error)
	Update(ctx context.Context, input UpdateInput) (*models.Business, error)
	SetActive(ctx context.Context, actor ActorContext, businessID uuid.UUID, active bool) error
	Get(ctx context.Context, businessID uuid.UUID) (*models.Business, error)
	GetBySlug(ctx context.Context, slug string) (*models.Business, error)
	ListForOwner(ctx context.Context, actor ActorContext) ([]models.Business, error)
	FindBusiness(ctx context.Context, businessID uuid.UUID) (*models.Business, error)
}

type service struct {
	repo          Repository
	tx            txRunner
	subscriptions subscriptionCreator
}

func NewService(repo Repository, tx txRunner, subscriptions subscriptionCreator) (Service, error) {
	if repo == nil {
		return nil, errors.New("repository required")
	}
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if subscriptions == nil {
		return nil, errors.New("subscription creator required")
	}
	return &service{repo: repo, tx: tx, subscriptions: subscriptions}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Business, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business name required")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = Slugify(name)
	} else {
		slug = Slugify(slug)
	}
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug could not be derived from name")
	}
	if input.PlanTier != "" && !input.PlanTier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier")
	}

	timezone := strings.TrimSpace(input.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}

	var created *models.Business
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		business := &models.Business{
			ID:          uuid.New(),
			OwnerID:     input.Actor.UserID,
			Name:        name,
			Slug:        slug,
			Description: input.Description,
			Phone:       input.Phone,
			Email:       input.Email,
			Address:     input.Address,
			Timezone:    timezone,
			IsActive:    true,
			Settings:    input.Settings,
		}
		if _, err := repo.Create(ctx, business); err != nil {
			if db.IsUniqueViolation(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "slug already taken")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create business")
		}

		// Every business starts with a subscription so quota checks
		// always have a row to guard against.
		if _, err := s.subscriptions.CreateForBusiness(ctx, tx, business.ID, input.PlanTier); err != nil {
			return err
		}

		created = business
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.Business, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}

	business, err := s.repo.FindByID(ctx, input.BusinessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}
	if !actorOwnsBusiness(input.Actor, business) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "business name required")
		}
		business.Name = name
	}
	if input.Description != nil {
		business.Description = input.Description
	}
	if input.Phone != nil {
		business.Phone = input.Phone
	}
	if input.Email != nil {
		business.Email = input.Email
	}
	if input.Address != nil {
		business.Address = input.Address
	}
	if input.Timezone != nil {
		tz := strings.TrimSpace(*input.Timezone)
		if tz == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "timezone required")
		}
		business.Timezone = tz
	}
	if input.Settings != nil {
		business.Settings = input.Settings
	}

	if err := s.repo.Update(ctx, business); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update business")
	}
	return business, nil
}

func (s *service) SetActive(ctx context.Context, actor ActorContext, businessID uuid.UUID, active bool) error {
	if businessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}

	business, err := s.repo.FindByID(ctx, businessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}
	if !actorOwnsBusiness(actor, business) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	if business.IsActive == active {
		return nil
	}

	changed, err := s.repo.SetActiveGuarded(ctx, businessID, active)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "toggle business")
	}
	if !changed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "business changed concurrently")
	}
	return nil
}

func (s *service) Get(ctx context.Context, businessID uuid.UUID) (*models.Business, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	return s.find(ctx, businessID)
}

func (s *service) GetBySlug(ctx context.Context, slug string) (*models.Business, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug required")
	}
	business, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}
	return business, nil
}

func (s *service) ListForOwner(ctx context.Context, actor ActorContext) ([]models.Business, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, err := s.repo.ListByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list businesses")
	}
	return rows, nil
}

// FindBusiness satisfies the loader interfaces of the catalog and
// order services.
func (s *service) FindBusiness(ctx context.Context, businessID uuid.UUID) (*models.Business, error) {
	return s.repo.FindByID(ctx, businessID)
}

func (s *service) find(ctx context.Context, businessID uuid.UUID) (*models.Business, error) {
	business, err := s.repo.FindByID(ctx, businessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}
	return business, nil
}

func actorOwnsBusiness(actor ActorContext, business *models.Business) bool {
	if actor.Role == enums.ActorRoleAdmin {
		return true
	}
	return business.OwnerID == actor.UserID
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases the name and collapses everything that is not a
// letter or digit into single hyphens.
func Slugify(value string) string {
	slug := strings.ToLower(strings.TrimSpace(value))
	slug = slugStrip.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
