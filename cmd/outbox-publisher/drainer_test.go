package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/config"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/payloads"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/registry"
)

func TestDrainOnceContinuesAfterFailure(t *testing.T) {
	repo := &fakeEventStore{
		events: []models.OutboxEvent{
			{
				ID:            uuid.New(),
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-one"),
			},
			{
				ID:            uuid.New(),
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-two"),
			},
		},
	}
	pub := &fakeTopicPublisher{
		handles: []publishHandle{
			fakePublishHandle{err: errors.New("transient")},
			fakePublishHandle{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "domain-topic",
			AggregateType: enums.AggregateOrder,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderCreatedEvent{},
	}
	eventRegistry := &fakeResolver{resolved: resolved}
	dlqRepo := &fakeDLQStore{}
	drainer := newTestDrainer(t, repo, pub, eventRegistry, dlqRepo, nil)

	drained, err := drainer.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain pass returned error: %v", err)
	}
	if drained != 2 {
		t.Fatalf("unexpected drained count: %d", drained)
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestDrainOnceWritesDLQOnNonRetryable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeEventStore{events: []models.OutboxEvent{event}}
	resolver := &fakeResolver{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQStore{}
	drainer := newTestDrainer(t, repo, &fakeTopicPublisher{}, resolver, dlqRepo, nil)

	drained, err := drainer.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain pass returned error: %v", err)
	}
	if drained != 1 {
		t.Fatalf("unexpected drained count: %d", drained)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestDrainOnceWritesDLQOnMaxAttempts(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "max-attempts"),
		AttemptCount:  1,
	}
	repo := &fakeEventStore{events: []models.OutboxEvent{event}}
	pub := &fakeTopicPublisher{
		handles: []publishHandle{
			fakePublishHandle{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "domain-topic",
			AggregateType: enums.AggregateOrder,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderCreatedEvent{},
	}
	resolver := &fakeResolver{resolved: resolved}
	dlqRepo := &fakeDLQStore{}
	drainer := newTestDrainer(t, repo, pub, resolver, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	drained, err := drainer.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain pass returned error: %v", err)
	}
	if drained != 1 {
		t.Fatalf("unexpected drained count: %d", drained)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func newTestDrainer(t *testing.T, repo eventStore, pub topicPublisher, resolver eventResolver, dlq deadLetterStore, outboxCfgOverride *config.OutboxConfig) *Drainer {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	drainer, err := NewDrainer(DrainerParams{
		Config:    cfg,
		Logger:    logg,
		DB:        &fakeDB{},
		PubSub:    &fakeBroker{},
		Events:    repo,
		Registry:  resolver,
		DLQ:       dlq,
		Publisher: func(_ string) topicPublisher { return pub },
	})
	if err != nil {
		t.Fatalf("failed to construct drainer: %v", err)
	}
	return drainer
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeEventStore struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeEventStore) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeEventStore) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeEventStore) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeEventStore) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeBroker struct{}

func (f *fakeBroker) Ping(context.Context) error {
	return nil
}

func (f *fakeBroker) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakeTopicPublisher struct {
	handles []publishHandle
}

func (f *fakeTopicPublisher) Publish(context.Context, *gcppubsub.Message) publishHandle {
	if len(f.handles) == 0 {
		return nil
	}
	handle := f.handles[0]
	f.handles = f.handles[1:]
	return handle
}

type fakePublishHandle struct {
	err error
}

func (f fakePublishHandle) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeResolver struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQStore struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQStore) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
