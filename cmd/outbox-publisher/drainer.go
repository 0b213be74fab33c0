package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/config"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/metrics"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPollMs      = 500
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	backoffCeiling      = 10 * time.Second
	jitterSpread        = 250 * time.Millisecond
)

type database interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type broker interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type topicPublisherFunc func(topic string) topicPublisher

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishHandle
}

type publishHandle interface {
	Get(context.Context) (string, error)
}

// DrainerParams collects the drainer's dependencies. Config, Logger, DB,
// PubSub, Events, Registry and DLQ are required; the rest default.
type DrainerParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        database
	PubSub    broker
	Events    eventStore
	Registry  eventResolver
	DLQ       deadLetterStore
	Metrics   *metrics.OutboxMetrics
	Publisher topicPublisherFunc
}

// Drainer polls the outbox table and relays pending events to Pub/Sub.
// Each pass runs in a single transaction so a crashed pass leaves the
// fetched rows locked-then-released rather than half-marked.
type Drainer struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           database
	events       eventStore
	pubsub       broker
	registry     eventResolver
	dlq          deadLetterStore
	outboxStats  *metrics.OutboxMetrics
	publisherFor topicPublisherFunc
	rng          *rand.Rand

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewDrainer(params DrainerParams) (*Drainer, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Events == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}

	publisherFor := params.Publisher
	if publisherFor == nil {
		publisherFor = func(topic string) topicPublisher {
			return wrapPublisher(params.PubSub.Publisher(topic))
		}
	}

	d := &Drainer{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		events:       params.Events,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQ,
		outboxStats:  params.Metrics,
		publisherFor: publisherFor,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		batchSize:    params.Config.Outbox.BatchSize,
		maxAttempts:  params.Config.Outbox.MaxAttempts,
		pollInterval: time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if d.batchSize <= 0 {
		d.batchSize = fallbackBatchSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = fallbackMaxAttempts
	}
	if d.pollInterval <= 0 {
		d.pollInterval = fallbackPollMs * time.Millisecond
	}
	return d, nil
}

// Run drains the outbox until ctx is canceled. Empty passes sleep for the
// poll interval; failed passes back off exponentially up to backoffCeiling.
func (d *Drainer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := d.checkDependencies(ctx); err != nil {
		return err
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "outbox drainer context canceled")
			return ctx.Err()
		default:
		}

		drained, err := d.drainOnce(ctx)
		switch {
		case err != nil:
			failures++
			d.logg.Error(ctx, "outbox drain pass failed", err)
			if err := d.pause(ctx, d.failureBackoff(failures)); err != nil {
				return err
			}
		case drained > 0:
			failures = 0
		default:
			failures = 0
			if err := d.pause(ctx, d.jittered(d.pollInterval)); err != nil {
				return err
			}
		}
	}
}

func (d *Drainer) checkDependencies(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": d.db.Ping,
		"pubsub":   d.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			d.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

// drainOnce fetches one batch inside a transaction and dispatches every
// event in it. It returns how many events were fetched.
func (d *Drainer) drainOnce(ctx context.Context) (int, error) {
	drained := 0
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := d.events.FetchUnpublishedForPublish(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		drained = len(events)
		for _, event := range events {
			if err := d.dispatch(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return drained, err
}

// dispatch publishes a single event and records the outcome. A returned
// error aborts the whole batch; per-event publish failures are absorbed
// into retry or dead letter bookkeeping instead.
func (d *Drainer) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := d.registry.Resolve(event)
	if err != nil {
		return d.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err)
	}

	topic := resolved.Descriptor.Topic
	pubErr := d.publish(ctx, topic, event, resolved)
	if pubErr == nil {
		if err := d.events.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		d.outboxStats.IncPublished(topic)
		d.logg.Info(d.withEventFields(ctx, event, topic), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return d.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, pubErr)
	}

	if event.AttemptCount+1 >= d.maxAttempts {
		terminal := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return d.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts, terminal)
	}

	logCtx := d.withEventFields(ctx, event, topic)
	logCtx = d.logg.WithField(logCtx, "error", pubErr.Error())
	d.logg.Warn(logCtx, "outbox publish failed, will retry")
	d.outboxStats.IncRetried(topic)
	if err := d.events.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return nil
}

func (d *Drainer) publish(ctx context.Context, topic string, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	pub := d.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	handle := pub.Publish(publishCtx, msg)
	if handle == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := handle.Get(publishCtx)
	return err
}

// deadLetter parks the event and marks its outbox row terminal in the
// same transaction that fetched it.
func (d *Drainer) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := d.withEventFields(ctx, event, topic)
	logCtx = d.logg.WithFields(logCtx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	})
	d.logg.Warn(logCtx, "outbox event will not be retried")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := d.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := d.events.MarkTerminalTx(tx, event.ID, cause, d.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	d.outboxStats.IncDeadLettered(string(reason))
	return nil
}

func (d *Drainer) withEventFields(ctx context.Context, event models.OutboxEvent, topic string) context.Context {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return d.logg.WithFields(ctx, fields)
}

func (d *Drainer) failureBackoff(failures int) time.Duration {
	wait := d.pollInterval
	for i := 1; i < failures; i++ {
		wait *= 2
		if wait >= backoffCeiling {
			wait = backoffCeiling
			break
		}
	}
	return d.jittered(wait)
}

func (d *Drainer) jittered(wait time.Duration) time.Duration {
	if wait <= 0 {
		return 0
	}
	return wait + time.Duration(d.rng.Int63n(int64(jitterSpread)))
}

func (d *Drainer) pause(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func wrapPublisher(p *gcppubsub.Publisher) topicPublisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{inner: p}
}

type gcpPublisher struct {
	inner *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishHandle {
	if p == nil || p.inner == nil {
		return nil
	}
	return &gcpPublishHandle{inner: p.inner.Publish(ctx, msg)}
}

type gcpPublishHandle struct {
	inner *gcppubsub.PublishResult
}

func (h *gcpPublishHandle) Get(ctx context.Context) (string, error) {
	if h == nil || h.inner == nil {
		return "", errors.New("publish result is nil")
	}
	return h.inner.Get(ctx)
}
