package contacts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/payloads"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type stubContactsRepo struct {
	contact          *models.Contact
	broadcast        *models.Broadcast
	reachable        []models.Contact
	createdContact   *models.Contact
	updatedContact   *models.Contact
	createdBroadcast *models.Broadcast
	createdReply     *models.BroadcastReply
	touched          []uuid.UUID
	deleted          bool
	replyGuardCalls  int
	createErr        error
}

func (s *stubContactsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubContactsRepo) CreateContact(ctx context.Context, contact *models.Contact) (*models.Contact, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.createdContact = contact
	return contact, nil
}

func (s *stubContactsRepo) UpdateContact(ctx context.Context, contact *models.Contact) error {
	s.updatedContact = contact
	return nil
}

func (s *stubContactsRepo) DeleteContact(ctx context.Context, businessID, contactID uuid.UUID) error {
	s.deleted = true
	return nil
}

func (s *stubContactsRepo) FindContact(ctx context.Context, contactID uuid.UUID) (*models.Contact, error) {
	if s.contact == nil || s.contact.ID != contactID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.contact, nil
}

func (s *stubContactsRepo) ListContacts(ctx context.Context, businessID uuid.UUID, params pagination.Params, filters ContactFilters) (*ContactList, error) {
	return &ContactList{Contacts: s.reachable}, nil
}

func (s *stubContactsRepo) ListReachableContacts(ctx context.Context, businessID uuid.UUID) ([]models.Contact, error) {
	return s.reachable, nil
}

func (s *stubContactsRepo) TouchContacts(ctx context.Context, contactIDs []uuid.UUID, at time.Time) error {
	s.touched = contactIDs
	return nil
}

func (s *stubContactsRepo) CreateBroadcast(ctx context.Context, broadcast *models.Broadcast) (*models.Broadcast, error) {
	s.createdBroadcast = broadcast
	return broadcast, nil
}

func (s *stubContactsRepo) FindBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.Broadcast, error) {
	if s.broadcast == nil || s.broadcast.ID != broadcastID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.broadcast, nil
}

func (s *stubContactsRepo) ListBroadcasts(ctx context.Context, businessID uuid.UUID, params pagination.Params) (*BroadcastList, error) {
	var rows []models.Broadcast
	if s.broadcast != nil && s.broadcast.BusinessID == businessID {
		rows = append(rows, *s.broadcast)
	}
	return &BroadcastList{Broadcasts: rows}, nil
}

func (s *stubContactsRepo) CreateReply(ctx context.Context, reply *models.BroadcastReply) (*models.BroadcastReply, error) {
	s.createdReply = reply
	return reply, nil
}

func (s *stubContactsRepo) ListReplies(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastReply, error) {
	if s.createdReply == nil {
		return nil, nil
	}
	return []models.BroadcastReply{*s.createdReply}, nil
}

func (s *stubContactsRepo) MarkReplyReadGuarded(ctx context.Context, replyID uuid.UUID, at time.Time) (bool, error) {
	s.replyGuardCalls++
	return s.replyGuardCalls == 1, nil
}

type emittedEvent struct {
	event outbox.DomainEvent
}

type stubOutbox struct {
	events []emittedEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, emittedEvent{event: event})
	return nil
}

type gateCall struct {
	metric enums.UsageMetric
	amount int64
}

type stubUsageGate struct {
	calls []gateCall
	err   error
}

func (s *stubUsageGate) CheckAndIncrement(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.calls = append(s.calls, gateCall{metric: metric, amount: amount})
	return amount, nil
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

func newContactService(t *testing.T, repo *stubContactsRepo, outboxSvc *stubOutbox, gate *stubUsageGate) Service {
	t.Helper()
	svc, err := NewService(repo, &stubTxRunner{}, outboxSvc, gate)
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

func reachableContact(businessID uuid.UUID, tags ...string) models.Contact {
	email := uuid.NewString() + "@example.com"
	return models.Contact{
		ID:         uuid.New(),
		BusinessID: businessID,
		Name:       "contact",
		Email:      &email,
		Tags:       tags,
	}
}

func TestCreateContactNormalizes(t *testing.T) {
	businessID := uuid.New()
	repo := &stubContactsRepo{}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	email := " Buyer@Example.COM "
	contact, err := svc.CreateContact(context.Background(), CreateContactInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Name:       "Buyer",
		Email:      &email,
		Tags:       []string{" VIP ", "vip", "Wholesale"},
	})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if *contact.Email != "buyer@example.com" {
		t.Fatalf("expected normalized email, got %q", *contact.Email)
	}
	if len(contact.Tags) != 2 || contact.Tags[0] != "vip" || contact.Tags[1] != "wholesale" {
		t.Fatalf("expected deduped lowercase tags, got %v", contact.Tags)
	}
}

func TestCreateContactNeedsReachability(t *testing.T) {
	businessID := uuid.New()
	svc := newContactService(t, &stubContactsRepo{}, &stubOutbox{}, &stubUsageGate{})

	_, err := svc.CreateContact(context.Background(), CreateContactInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Name:       "Buyer",
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestCreateContactDuplicate(t *testing.T) {
	businessID := uuid.New()
	repo := &stubContactsRepo{createErr: errUniqueViolation{}}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	email := "buyer@example.com"
	_, err := svc.CreateContact(context.Background(), CreateContactInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Name:       "Buyer",
		Email:      &email,
	})
	assertCode(t, err, pkgerrors.CodeConflict)
}

type errUniqueViolation struct{}

func (errUniqueViolation) Error() string { return "UNIQUE constraint failed: contacts.email" }

func TestSendBroadcastMetersQuota(t *testing.T) {
	businessID := uuid.New()
	repo := &stubContactsRepo{reachable: []models.Contact{
		reachableContact(businessID, "vip"),
		reachableContact(businessID, "wholesale"),
	}}
	outboxSvc := &stubOutbox{}
	gate := &stubUsageGate{}
	svc := newContactService(t, repo, outboxSvc, gate)

	broadcast, err := svc.SendBroadcast(context.Background(), SendBroadcastInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Subject:    "Sale",
		Body:       "Everything is discounted.",
	})
	if err != nil {
		t.Fatalf("SendBroadcast: %v", err)
	}
	if broadcast.Status != enums.BroadcastStatusSent {
		t.Fatalf("expected sent status, got %s", broadcast.Status)
	}
	if broadcast.RecipientCount != 2 {
		t.Fatalf("expected 2 recipients, got %d", broadcast.RecipientCount)
	}
	if len(gate.calls) != 1 || gate.calls[0].metric != enums.UsageMetricBroadcasts || gate.calls[0].amount != 1 {
		t.Fatalf("expected one broadcasts unit, got %+v", gate.calls)
	}
	if len(repo.touched) != 2 {
		t.Fatalf("expected last_contacted touched for 2 contacts, got %d", len(repo.touched))
	}
	if len(outboxSvc.events) != 1 {
		t.Fatalf("expected one event, got %d", len(outboxSvc.events))
	}
	payload, ok := outboxSvc.events[0].event.Data.(payloads.BroadcastSentEvent)
	if !ok || payload.RecipientCount != 2 {
		t.Fatalf("unexpected event payload %+v", outboxSvc.events[0].event.Data)
	}
}

func TestSendBroadcastSegmentsByTag(t *testing.T) {
	businessID := uuid.New()
	vip := reachableContact(businessID, "vip")
	repo := &stubContactsRepo{reachable: []models.Contact{
		vip,
		reachableContact(businessID, "wholesale"),
		reachableContact(businessID),
	}}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	broadcast, err := svc.SendBroadcast(context.Background(), SendBroadcastInput{
		BusinessID:  businessID,
		Actor:       vendorActor(businessID),
		Subject:     "VIP preview",
		Body:        "Early access.",
		SegmentTags: []string{"VIP"},
	})
	if err != nil {
		t.Fatalf("SendBroadcast: %v", err)
	}
	if broadcast.RecipientCount != 1 {
		t.Fatalf("expected 1 recipient, got %d", broadcast.RecipientCount)
	}
	if len(repo.touched) != 1 || repo.touched[0] != vip.ID {
		t.Fatalf("expected only the vip contact touched, got %v", repo.touched)
	}
}

func TestSendBroadcastEmptySegmentRejected(t *testing.T) {
	businessID := uuid.New()
	repo := &stubContactsRepo{}
	gate := &stubUsageGate{}
	svc := newContactService(t, repo, &stubOutbox{}, gate)

	_, err := svc.SendBroadcast(context.Background(), SendBroadcastInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Subject:    "Sale",
		Body:       "Body",
	})
	assertCode(t, err, pkgerrors.CodeValidation)
	if len(gate.calls) != 0 {
		t.Fatal("quota must not be consumed for an empty segment")
	}
}

func TestSendBroadcastQuotaExceeded(t *testing.T) {
	businessID := uuid.New()
	repo := &stubContactsRepo{reachable: []models.Contact{reachableContact(businessID)}}
	gate := &stubUsageGate{err: pkgerrors.New(pkgerrors.CodeQuotaExceeded, "plan limit reached")}
	svc := newContactService(t, repo, &stubOutbox{}, gate)

	_, err := svc.SendBroadcast(context.Background(), SendBroadcastInput{
		BusinessID: businessID,
		Actor:      vendorActor(businessID),
		Subject:    "Sale",
		Body:       "Body",
	})
	assertCode(t, err, pkgerrors.CodeQuotaExceeded)
	if repo.createdBroadcast != nil {
		t.Fatal("broadcast must not be created past the quota")
	}
}

func TestReceiveReplyThreadsAndEmits(t *testing.T) {
	businessID := uuid.New()
	contact := reachableContact(businessID)
	sentAt := time.Now().UTC()
	repo := &stubContactsRepo{
		contact: &contact,
		broadcast: &models.Broadcast{
			ID:         uuid.New(),
			BusinessID: businessID,
			Status:     enums.BroadcastStatusSent,
			SentAt:     &sentAt,
		},
	}
	outboxSvc := &stubOutbox{}
	svc := newContactService(t, repo, outboxSvc, &stubUsageGate{})

	reply, err := svc.ReceiveReply(context.Background(), ReceiveReplyInput{
		BroadcastID: repo.broadcast.ID,
		ContactID:   contact.ID,
		Body:        "Do you ship overseas?",
	})
	if err != nil {
		t.Fatalf("ReceiveReply: %v", err)
	}
	if reply.BroadcastID != repo.broadcast.ID || reply.ContactID != contact.ID {
		t.Fatalf("reply not threaded: %+v", reply)
	}
	if len(outboxSvc.events) != 1 {
		t.Fatalf("expected one event, got %d", len(outboxSvc.events))
	}
	payload, ok := outboxSvc.events[0].event.Data.(payloads.BroadcastReplyReceivedEvent)
	if !ok || payload.ReplyID != reply.ID {
		t.Fatalf("unexpected event payload %+v", outboxSvc.events[0].event.Data)
	}
}

func TestReceiveReplyRejectsForeignContact(t *testing.T) {
	businessID := uuid.New()
	foreign := reachableContact(uuid.New())
	sentAt := time.Now().UTC()
	repo := &stubContactsRepo{
		contact: &foreign,
		broadcast: &models.Broadcast{
			ID:         uuid.New(),
			BusinessID: businessID,
			Status:     enums.BroadcastStatusSent,
			SentAt:     &sentAt,
		},
	}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	_, err := svc.ReceiveReply(context.Background(), ReceiveReplyInput{
		BroadcastID: repo.broadcast.ID,
		ContactID:   foreign.ID,
		Body:        "hello",
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestReceiveReplyRequiresSentBroadcast(t *testing.T) {
	businessID := uuid.New()
	contact := reachableContact(businessID)
	repo := &stubContactsRepo{
		contact: &contact,
		broadcast: &models.Broadcast{
			ID:         uuid.New(),
			BusinessID: businessID,
			Status:     enums.BroadcastStatusDraft,
		},
	}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	_, err := svc.ReceiveReply(context.Background(), ReceiveReplyInput{
		BroadcastID: repo.broadcast.ID,
		ContactID:   contact.ID,
		Body:        "hello",
	})
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestSetOptOutExcludesFromSegments(t *testing.T) {
	businessID := uuid.New()
	contact := reachableContact(businessID)
	repo := &stubContactsRepo{contact: &contact}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	if err := svc.SetOptOut(context.Background(), vendorActor(businessID), contact.ID, true); err != nil {
		t.Fatalf("SetOptOut: %v", err)
	}
	if repo.updatedContact == nil || !repo.updatedContact.OptedOut {
		t.Fatal("expected contact opted out")
	}

	// Repeating is a noop.
	repo.updatedContact = nil
	if err := svc.SetOptOut(context.Background(), vendorActor(businessID), contact.ID, true); err != nil {
		t.Fatalf("SetOptOut: %v", err)
	}
	if repo.updatedContact != nil {
		t.Fatal("repeat opt-out should not write")
	}
}

func TestContactAccessForbiddenForOtherBusiness(t *testing.T) {
	contact := reachableContact(uuid.New())
	repo := &stubContactsRepo{contact: &contact}
	svc := newContactService(t, repo, &stubOutbox{}, &stubUsageGate{})

	_, err := svc.GetContact(context.Background(), vendorActor(uuid.New()), contact.ID)
	assertCode(t, err, pkgerrors.CodeForbidden)
}
