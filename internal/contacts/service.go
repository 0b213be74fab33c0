package contacts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/payloads"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// UsageGate admits metered work against the business's plan.
type UsageGate interface {
	CheckAndIncrement(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (int64, error)
}

// ActorContext identifies who is performing an operation.
type ActorContext struct {
	UserID     uuid.UUID
	BusinessID *uuid.UUID
	Role       enums.ActorRole
}

// CreateContactInput adds one record to the contact book.
type CreateContactInput struct {
	BusinessID uuid.UUID
	Actor      ActorContext
	Name       string
	Email      *string
	Phone      *string
	Tags       []string
}

// UpdateContactInput mutates a contact. Nil fields are left unchanged.
type UpdateContactInput struct {
	ContactID uuid.UUID
	Actor     ActorContext
	Name      *string
	Email     *string
	Phone     *string
	Tags      []string
}

// SendBroadcastInput sends a message to a tagged segment.
type SendBroadcastInput struct {
	BusinessID  uuid.UUID
	Actor       ActorContext
	Subject     string
	Body        string
	SegmentTags []string
}

// ReceiveReplyInput threads an inbound reply onto a broadcast.
type ReceiveReplyInput struct {
	BroadcastID uuid.UUID
	ContactID   uuid.UUID
	Body        string
}

// Service exposes contact book and broadcast operations.
type Service interface {
	CreateContact(ctx context.Context, input CreateContactInput) (*models.Contact, error)
	UpdateContact(ctx context.Context, input UpdateContactInput) (*models.Contact, error)
	SetOptOut(ctx context.Context, actor ActorContext, contactID uuid.UUID, optedOut bool) error
	DeleteContact(ctx context.Context, actor ActorContext, contactID uuid.UUID) error
	GetContact(ctx context.Context, actor ActorContext, contactID uuid.UUID) (*models.Contact, error)
	ListContacts(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params, filters ContactFilters) (*ContactList, error)

	SendBroadcast(ctx context.Context, input SendBroadcastInput) (*models.Broadcast, error)
	GetBroadcast(ctx context.Context, actor ActorContext, broadcastID uuid.UUID) (*models.Broadcast, error)
	ListBroadcasts(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params) (*BroadcastList, error)

	ReceiveReply(ctx context.Context, input ReceiveReplyInput) (*models.BroadcastReply, error)
	ListReplies(ctx context.Context, actor ActorContext, broadcastID uuid.UUID) ([]models.BroadcastReply, error)
	MarkReplyRead(ctx context.Context, actor ActorContext, broadcastID, replyID uuid.UUID) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	usage  UsageGate
}

func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, usage UsageGate) (Service, error) {
	if repo == nil {
		return nil, errors.New("repository required")
	}
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if outboxSvc == nil {
		return nil, errors.New("outbox publisher required")
	}
	if usage == nil {
		return nil, errors.New("usage gate required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc, usage: usage}, nil
}

func (s *service) CreateContact(ctx context.Context, input CreateContactInput) (*models.Contact, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !actorManagesBusiness(input.Actor, input.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact name required")
	}
	email, phone, err := normalizeReachability(input.Email, input.Phone)
	if err != nil {
		return nil, err
	}

	contact := &models.Contact{
		ID:         uuid.New(),
		BusinessID: input.BusinessID,
		Name:       name,
		Email:      email,
		Phone:      phone,
		Tags:       normalizeTags(input.Tags),
	}
	if _, err := s.repo.CreateContact(ctx, contact); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "contact with this email or phone already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create contact")
	}
	return contact, nil
}

func (s *service) UpdateContact(ctx context.Context, input UpdateContactInput) (*models.Contact, error) {
	if input.ContactID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact id required")
	}

	contact, err := s.loadManagedContact(ctx, input.Actor, input.ContactID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact name required")
		}
		contact.Name = name
	}
	if input.Email != nil || input.Phone != nil {
		email := contact.Email
		phone := contact.Phone
		if input.Email != nil {
			email = input.Email
		}
		if input.Phone != nil {
			phone = input.Phone
		}
		email, phone, err = normalizeReachability(email, phone)
		if err != nil {
			return nil, err
		}
		contact.Email = email
		contact.Phone = phone
	}
	if input.Tags != nil {
		contact.Tags = normalizeTags(input.Tags)
	}

	if err := s.repo.UpdateContact(ctx, contact); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "contact with this email or phone already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update contact")
	}
	return contact, nil
}

func (s *service) SetOptOut(ctx context.Context, actor ActorContext, contactID uuid.UUID, optedOut bool) error {
	contact, err := s.loadManagedContact(ctx, actor, contactID)
	if err != nil {
		return err
	}
	if contact.OptedOut == optedOut {
		return nil
	}
	contact.OptedOut = optedOut
	if err := s.repo.UpdateContact(ctx, contact); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update contact")
	}
	return nil
}

func (s *service) DeleteContact(ctx context.Context, actor ActorContext, contactID uuid.UUID) error {
	contact, err := s.loadManagedContact(ctx, actor, contactID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteContact(ctx, contact.BusinessID, contact.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete contact")
	}
	return nil
}

func (s *service) GetContact(ctx context.Context, actor ActorContext, contactID uuid.UUID) (*models.Contact, error) {
	return s.loadManagedContact(ctx, actor, contactID)
}

func (s *service) ListContacts(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params, filters ContactFilters) (*ContactList, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !actorManagesBusiness(actor, businessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	list, err := s.repo.ListContacts(ctx, businessID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list contacts")
	}
	return list, nil
}

func (s *service) SendBroadcast(ctx context.Context, input SendBroadcastInput) (*models.Broadcast, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !actorManagesBusiness(input.Actor, input.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	subject := strings.TrimSpace(input.Subject)
	body := strings.TrimSpace(input.Body)
	if subject == "" || body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subject and body required")
	}
	tags := normalizeTags(input.SegmentTags)

	var sent *models.Broadcast
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		recipients, err := s.resolveSegment(ctx, repo, input.BusinessID, tags)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "no reachable contacts match the segment")
		}

		// One broadcast consumes one quota unit regardless of the
		// recipient count.
		if _, err := s.usage.CheckAndIncrement(ctx, tx, input.BusinessID, enums.UsageMetricBroadcasts, 1); err != nil {
			return err
		}

		now := time.Now().UTC()
		broadcast := &models.Broadcast{
			ID:             uuid.New(),
			BusinessID:     input.BusinessID,
			Subject:        subject,
			Body:           body,
			SegmentTags:    tags,
			Status:         enums.BroadcastStatusSent,
			RecipientCount: len(recipients),
			SentAt:         &now,
		}
		if _, err := repo.CreateBroadcast(ctx, broadcast); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create broadcast")
		}

		ids := make([]uuid.UUID, 0, len(recipients))
		for _, contact := range recipients {
			ids = append(ids, contact.ID)
		}
		if err := repo.TouchContacts(ctx, ids, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch contacts")
		}

		sent = broadcast
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBroadcastSent,
			AggregateType: enums.AggregateBroadcast,
			AggregateID:   broadcast.ID,
			Version:       1,
			Actor:         buildActor(input.Actor),
			Data: payloads.BroadcastSentEvent{
				BroadcastID:    broadcast.ID,
				BusinessID:     broadcast.BusinessID,
				RecipientCount: broadcast.RecipientCount,
				SentAt:         now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

func (s *service) GetBroadcast(ctx context.Context, actor ActorContext, broadcastID uuid.UUID) (*models.Broadcast, error) {
	if broadcastID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast id required")
	}
	broadcast, err := s.repo.FindBroadcast(ctx, broadcastID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "broadcast not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load broadcast")
	}
	if !actorManagesBusiness(actor, broadcast.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "broadcast not accessible")
	}
	return broadcast, nil
}

func (s *service) ListBroadcasts(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params) (*BroadcastList, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !actorManagesBusiness(actor, businessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	list, err := s.repo.ListBroadcasts(ctx, businessID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list broadcasts")
	}
	return list, nil
}

func (s *service) ReceiveReply(ctx context.Context, input ReceiveReplyInput) (*models.BroadcastReply, error) {
	if input.BroadcastID == uuid.Nil || input.ContactID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast id and contact id required")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reply body required")
	}

	broadcast, err := s.repo.FindBroadcast(ctx, input.BroadcastID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "broadcast not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load broadcast")
	}
	if broadcast.Status != enums.BroadcastStatusSent {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "broadcast has not been sent")
	}
	contact, err := s.repo.FindContact(ctx, input.ContactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "contact not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contact")
	}
	if contact.BusinessID != broadcast.BusinessID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact does not belong to the broadcast's business")
	}

	var created *models.BroadcastReply
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		reply := &models.BroadcastReply{
			ID:          uuid.New(),
			BroadcastID: broadcast.ID,
			ContactID:   contact.ID,
			Body:        body,
		}
		if _, err := repo.CreateReply(ctx, reply); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reply")
		}

		created = reply
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBroadcastReplyReceived,
			AggregateType: enums.AggregateBroadcast,
			AggregateID:   broadcast.ID,
			Version:       1,
			Data: payloads.BroadcastReplyReceivedEvent{
				BroadcastID: broadcast.ID,
				ReplyID:     reply.ID,
				BusinessID:  broadcast.BusinessID,
				ContactID:   contact.ID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) ListReplies(ctx context.Context, actor ActorContext, broadcastID uuid.UUID) ([]models.BroadcastReply, error) {
	broadcast, err := s.GetBroadcast(ctx, actor, broadcastID)
	if err != nil {
		return nil, err
	}
	replies, err := s.repo.ListReplies(ctx, broadcast.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list replies")
	}
	return replies, nil
}

func (s *service) MarkReplyRead(ctx context.Context, actor ActorContext, broadcastID, replyID uuid.UUID) error {
	if replyID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reply id required")
	}
	if _, err := s.GetBroadcast(ctx, actor, broadcastID); err != nil {
		return err
	}
	// Marking twice is a noop, so the guard result is not checked.
	if _, err := s.repo.MarkReplyReadGuarded(ctx, replyID, time.Now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark reply read")
	}
	return nil
}

func (s *service) loadManagedContact(ctx context.Context, actor ActorContext, contactID uuid.UUID) (*models.Contact, error) {
	if contactID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact id required")
	}
	contact, err := s.repo.FindContact(ctx, contactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "contact not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contact")
	}
	if !actorManagesBusiness(actor, contact.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "contact not accessible")
	}
	return contact, nil
}

func (s *service) resolveSegment(ctx context.Context, repo Repository, businessID uuid.UUID, tags []string) ([]models.Contact, error) {
	reachable, err := repo.ListReachableContacts(ctx, businessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list contacts")
	}
	if len(tags) == 0 {
		return reachable, nil
	}
	var matched []models.Contact
	for _, contact := range reachable {
		for _, tag := range tags {
			if hasTag(contact.Tags, tag) {
				matched = append(matched, contact)
				break
			}
		}
	}
	return matched, nil
}

func normalizeReachability(email, phone *string) (*string, *string, error) {
	var outEmail, outPhone *string
	if email != nil {
		value := strings.ToLower(strings.TrimSpace(*email))
		if value != "" {
			if !strings.Contains(value, "@") {
				return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid email")
			}
			outEmail = &value
		}
	}
	if phone != nil {
		value := strings.TrimSpace(*phone)
		if value != "" {
			outPhone = &value
		}
	}
	if outEmail == nil && outPhone == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "contact needs an email or phone")
	}
	return outEmail, outPhone, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func actorManagesBusiness(actor ActorContext, businessID uuid.UUID) bool {
	if actor.Role == enums.ActorRoleAdmin {
		return true
	}
	return actor.Role == enums.ActorRoleVendor &&
		actor.BusinessID != nil &&
		*actor.BusinessID == businessID
}

func buildActor(actor ActorContext) *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID:     actor.UserID,
		BusinessID: actor.BusinessID,
		Role:       actor.Role.String(),
	}
}
