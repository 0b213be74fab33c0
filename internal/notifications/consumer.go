package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/payloads"
)

const notificationConsumer = "domain-notifications"

type consumerRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type replayGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer watches domain events and turns them into in-app notifications.
type Consumer struct {
	repo         consumerRepository
	subscription *pubsub.Subscriber
	replay       replayGuard
	logg         *logger.Logger
}

// NewConsumer builds a domain notification consumer.
func NewConsumer(repo consumerRepository, subscription *pubsub.Subscriber, replay replayGuard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if replay == nil {
		return nil, fmt.Errorf("replay guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		replay:       replay,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !handlesEventType(eventType) {
		c.logg.Info(logCtx, "skipping event without notification mapping")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.replay.CheckAndMarkProcessed(ctx, notificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handleEnvelope(ctx, enums.OutboxEventType(eventType), envelope.Data); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.replay.Delete(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func handlesEventType(eventType string) bool {
	switch enums.OutboxEventType(eventType) {
	case enums.EventOrderCreated,
		enums.EventBroadcastReplyReceived,
		enums.EventQuotaThresholdReached,
		enums.EventSubscriptionStatusChanged:
		return true
	}
	return false
}

func (c *Consumer) handleEnvelope(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) error {
	switch eventType {
	case enums.EventOrderCreated:
		var payload payloads.OrderCreatedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse order payload: %w", err)
		}
		return c.notifyOrderCreated(ctx, payload)
	case enums.EventBroadcastReplyReceived:
		var payload payloads.BroadcastReplyReceivedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse reply payload: %w", err)
		}
		return c.notifyBroadcastReply(ctx, payload)
	case enums.EventQuotaThresholdReached:
		var payload payloads.QuotaThresholdReachedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse quota payload: %w", err)
		}
		return c.notifyQuotaThreshold(ctx, payload)
	case enums.EventSubscriptionStatusChanged:
		var payload payloads.SubscriptionStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse subscription payload: %w", err)
		}
		return c.notifySubscriptionStatus(ctx, payload)
	}
	return nil
}

func (c *Consumer) notifyOrderCreated(ctx context.Context, payload payloads.OrderCreatedEvent) error {
	if payload.BusinessID == uuid.Nil {
		return fmt.Errorf("business id missing")
	}
	link := fmt.Sprintf("/businesses/%s/orders/%s", payload.BusinessID, payload.OrderID)
	return c.repo.Create(ctx, &models.Notification{
		BusinessID: payload.BusinessID,
		Type:       enums.NotificationTypeOrderAlert,
		Title:      "New order received",
		Message:    fmt.Sprintf("Order #%d placed with %d items for $%.2f.", payload.OrderNumber, payload.ItemCount, float64(payload.TotalCents)/100),
		Link:       stringPtr(link),
	})
}

func (c *Consumer) notifyBroadcastReply(ctx context.Context, payload payloads.BroadcastReplyReceivedEvent) error {
	if payload.BusinessID == uuid.Nil {
		return fmt.Errorf("business id missing")
	}
	link := fmt.Sprintf("/businesses/%s/broadcasts/%s", payload.BusinessID, payload.BroadcastID)
	return c.repo.Create(ctx, &models.Notification{
		BusinessID: payload.BusinessID,
		Type:       enums.NotificationTypeBroadcastReply,
		Title:      "New broadcast reply",
		Message:    "A contact replied to your broadcast.",
		Link:       stringPtr(link),
	})
}

func (c *Consumer) notifyQuotaThreshold(ctx context.Context, payload payloads.QuotaThresholdReachedEvent) error {
	if payload.BusinessID == uuid.Nil {
		return fmt.Errorf("business id missing")
	}
	return c.repo.Create(ctx, &models.Notification{
		BusinessID: payload.BusinessID,
		Type:       enums.NotificationTypeQuotaWarning,
		Title:      "Plan quota almost used",
		Message: fmt.Sprintf("You have used %d of %d %s this period (%d%%). Consider upgrading your plan.",
			payload.Usage, payload.Limit, payload.Metric, payload.ThresholdPct),
		Link: stringPtr("/settings/billing"),
	})
}

func (c *Consumer) notifySubscriptionStatus(ctx context.Context, payload payloads.SubscriptionStatusChangedEvent) error {
	if payload.BusinessID == uuid.Nil {
		return fmt.Errorf("business id missing")
	}
	title := "Subscription updated"
	message := fmt.Sprintf("Your subscription moved from %s to %s.", payload.From, payload.To)
	switch payload.To {
	case enums.SubscriptionStatusGrace:
		title = "Payment problem"
		message = "Your last payment failed. Update your billing details to keep your plan active."
	case enums.SubscriptionStatusPastDue:
		title = "Subscription past due"
		message = "Your subscription lapsed after the grace period. Metered features are paused until payment."
	case enums.SubscriptionStatusCanceled:
		title = "Subscription canceled"
		message = "Your subscription has been canceled."
	}
	return c.repo.Create(ctx, &models.Notification{
		BusinessID: payload.BusinessID,
		Type:       enums.NotificationTypeBillingAlert,
		Title:      title,
		Message:    message,
		Link:       stringPtr("/settings/billing"),
	})
}

func stringPtr(value string) *string {
	return &value
}
