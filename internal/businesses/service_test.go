package businesses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
)

type stubBusinessRepo struct {
	business    *models.Business
	created     *models.Business
	updated     *models.Business
	guardResult bool
	guardCalls  int
	createErr   error
}

func (s *stubBusinessRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubBusinessRepo) Create(ctx context.Context, business *models.Business) (*models.Business, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = business
	return business, nil
}

func (s *stubBusinessRepo) Update(ctx context.Context, business *models.Business) error {
	s.updated = business
	return nil
}

func (s *stubBusinessRepo) FindByID(ctx context.Context, businessID uuid.UUID) (*models.Business, error) {
	if s.business == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.business, nil
}

func (s *stubBusinessRepo) FindBySlug(ctx context.Context, slug string) (*models.Business, error) {
	if s.business == nil || s.business.Slug != slug {
		return nil, gorm.ErrRecordNotFound
	}
	return s.business, nil
}

func (s *stubBusinessRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Business, error) {
	if s.business == nil || s.business.OwnerID != ownerID {
		return nil, nil
	}
	return []models.Business{*s.business}, nil
}

func (s *stubBusinessRepo) SetActiveGuarded(ctx context.Context, businessID uuid.UUID, active bool) (bool, error) {
	s.guardCalls++
	return s.guardResult, nil
}

type subscriptionCall struct {
	businessID uuid.UUID
	tier       enums.PlanTier
}

type stubSubscriptionCreator struct {
	calls []subscriptionCall
	err   error
}

func (s *stubSubscriptionCreator) CreateForBusiness(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, subscriptionCall{businessID: businessID, tier: tier})
	return &models.Subscription{BusinessID: businessID, PlanTier: tier}, nil
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newBusinessService(t *testing.T, repo *stubBusinessRepo, subs *stubSubscriptionCreator) Service {
	t.Helper()
	svc, err := NewService(repo, &stubTxRunner{}, subs)
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

func ownerActor(userID uuid.UUID) ActorContext {
	return ActorContext{UserID: userID, Role: enums.ActorRoleVendor}
}

func TestCreateBusinessSeedsSubscription(t *testing.T) {
	repo := &stubBusinessRepo{}
	subs := &stubSubscriptionCreator{}
	svc := newBusinessService(t, repo, subs)

	owner := uuid.New()
	business, err := svc.Create(context.Background(), CreateInput{
		Actor: ownerActor(owner),
		Name:  "Corner Cafe & Bakery",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if business.Slug != "corner-cafe-bakery" {
		t.Fatalf("unexpected slug %q", business.Slug)
	}
	if business.OwnerID != owner {
		t.Fatalf("expected owner %s, got %s", owner, business.OwnerID)
	}
	if !business.IsActive {
		t.Fatal("new business should be active")
	}
	if business.Timezone != "UTC" {
		t.Fatalf("expected UTC default, got %q", business.Timezone)
	}
	if len(subs.calls) != 1 || subs.calls[0].businessID != business.ID {
		t.Fatalf("expected one subscription for the business, got %+v", subs.calls)
	}
}

func TestCreateBusinessWithExplicitTier(t *testing.T) {
	repo := &stubBusinessRepo{}
	subs := &stubSubscriptionCreator{}
	svc := newBusinessService(t, repo, subs)

	_, err := svc.Create(context.Background(), CreateInput{
		Actor:    ownerActor(uuid.New()),
		Name:     "Studio",
		PlanTier: enums.PlanTierMonthly,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(subs.calls) != 1 || subs.calls[0].tier != enums.PlanTierMonthly {
		t.Fatalf("expected monthly tier, got %+v", subs.calls)
	}
}

func TestCreateBusinessSubscriptionFailureRollsUp(t *testing.T) {
	repo := &stubBusinessRepo{}
	subs := &stubSubscriptionCreator{err: pkgerrors.New(pkgerrors.CodeDependency, "plan missing")}
	svc := newBusinessService(t, repo, subs)

	_, err := svc.Create(context.Background(), CreateInput{
		Actor: ownerActor(uuid.New()),
		Name:  "Studio",
	})
	assertCode(t, err, pkgerrors.CodeDependency)
}

func TestCreateBusinessRequiresName(t *testing.T) {
	svc := newBusinessService(t, &stubBusinessRepo{}, &stubSubscriptionCreator{})

	_, err := svc.Create(context.Background(), CreateInput{
		Actor: ownerActor(uuid.New()),
		Name:  "   ",
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestUpdateBusinessOwnerOnly(t *testing.T) {
	owner := uuid.New()
	repo := &stubBusinessRepo{business: &models.Business{
		ID:      uuid.New(),
		OwnerID: owner,
		Name:    "Studio",
	}}
	svc := newBusinessService(t, repo, &stubSubscriptionCreator{})

	name := "Studio Two"
	_, err := svc.Update(context.Background(), UpdateInput{
		BusinessID: repo.business.ID,
		Actor:      ownerActor(uuid.New()),
		Name:       &name,
	})
	assertCode(t, err, pkgerrors.CodeForbidden)

	updated, err := svc.Update(context.Background(), UpdateInput{
		BusinessID: repo.business.ID,
		Actor:      ownerActor(owner),
		Name:       &name,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Studio Two" {
		t.Fatalf("expected renamed business, got %q", updated.Name)
	}
}

func TestSetActiveNoopWhenAlreadyThere(t *testing.T) {
	owner := uuid.New()
	repo := &stubBusinessRepo{business: &models.Business{
		ID:       uuid.New(),
		OwnerID:  owner,
		IsActive: true,
	}}
	svc := newBusinessService(t, repo, &stubSubscriptionCreator{})

	if err := svc.SetActive(context.Background(), ownerActor(owner), repo.business.ID, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if repo.guardCalls != 0 {
		t.Fatal("guard should not run for a noop")
	}
}

func TestSetActiveConcurrentLoser(t *testing.T) {
	owner := uuid.New()
	repo := &stubBusinessRepo{
		business:    &models.Business{ID: uuid.New(), OwnerID: owner, IsActive: true},
		guardResult: false,
	}
	svc := newBusinessService(t, repo, &stubSubscriptionCreator{})

	err := svc.SetActive(context.Background(), ownerActor(owner), repo.business.ID, false)
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestGetBySlug(t *testing.T) {
	repo := &stubBusinessRepo{business: &models.Business{
		ID:   uuid.New(),
		Slug: "corner-cafe",
	}}
	svc := newBusinessService(t, repo, &stubSubscriptionCreator{})

	business, err := svc.GetBySlug(context.Background(), "corner-cafe")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if business.ID != repo.business.ID {
		t.Fatal("wrong business returned")
	}

	_, err = svc.GetBySlug(context.Background(), "missing")
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Corner Cafe & Bakery": "corner-cafe-bakery",
		"  Trim Me  ":          "trim-me",
		"UPPER":                "upper",
		"dots.and.dashes-":     "dots-and-dashes",
		"数字 only 123":          "only-123",
	}
	for input, want := range cases {
		if got := Slugify(input); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", input, got, want)
		}
	}
}
