package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/internal/subscriptions"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
)

const consumerName = "billing-webhook"

// Provider event types the consumer understands. Anything else is
// acknowledged and dropped.
const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPlanChanged          = "subscription.plan_changed"
)

type usageLedger interface {
	ResetPeriod(ctx context.Context, businessID uuid.UUID, newRenewsAt time.Time) error
	ApplyStatus(ctx context.Context, businessID uuid.UUID, to enums.SubscriptionStatus) error
	ChangePlan(ctx context.Context, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error)
	Usage(ctx context.Context, businessID uuid.UUID) (*subscriptions.UsageReport, error)
}

type replayGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// ProviderEvent is the normalized shape of a billing provider webhook
// after signature verification at the transport layer.
type ProviderEvent struct {
	EventID    uuid.UUID      `json:"event_id"`
	Type       string         `json:"type"`
	BusinessID uuid.UUID      `json:"business_id"`
	PlanTier   enums.PlanTier `json:"plan_tier,omitempty"`
	PeriodEnd  *time.Time     `json:"period_end,omitempty"`
}

// ServiceParams configure the billing webhook consumer.
type ServiceParams struct {
	Logger *logger.Logger
	Ledger usageLedger
	Replay replayGuard
}

// Service applies provider-driven subscription lifecycle changes. It is
// the only caller of the ledger's status and reset operations.
type Service struct {
	logg   *logger.Logger
	ledger usageLedger
	replay replayGuard
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("usage ledger required")
	}
	if params.Replay == nil {
		return nil, fmt.Errorf("replay guard required")
	}
	return &Service{
		logg:   params.Logger,
		ledger: params.Ledger,
		replay: params.Replay,
	}, nil
}

// HandleEvent processes one provider event. Replayed deliveries are
// acknowledged without effect.
func (s *Service) HandleEvent(ctx context.Context, event *ProviderEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider event required")
	}
	if event.EventID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if event.BusinessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}

	processed, err := s.replay.CheckAndMarkProcessed(ctx, consumerName, event.EventID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check replay marker")
	}
	if processed {
		logCtx := s.logg.WithField(ctx, "event_id", event.EventID.String())
		s.logg.Info(logCtx, "duplicate provider event skipped")
		return nil
	}

	if err := s.apply(ctx, event); err != nil {
		// Clear the marker so the provider's retry is not swallowed.
		if delErr := s.replay.Delete(ctx, consumerName, event.EventID); delErr != nil {
			s.logg.Error(ctx, "failed to clear replay marker", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, event *ProviderEvent) error {
	switch strings.ToLower(event.Type) {
	case EventInvoicePaid:
		return s.renew(ctx, event)
	case EventInvoicePaymentFailed:
		return s.ledger.ApplyStatus(ctx, event.BusinessID, enums.SubscriptionStatusGrace)
	case EventSubscriptionCanceled:
		return s.ledger.ApplyStatus(ctx, event.BusinessID, enums.SubscriptionStatusCanceled)
	case EventPlanChanged:
		if !event.PlanTier.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, "plan tier required for plan change")
		}
		_, err := s.ledger.ChangePlan(ctx, event.BusinessID, event.PlanTier)
		return err
	default:
		logCtx := s.logg.WithField(ctx, "type", event.Type)
		s.logg.Info(logCtx, "unhandled provider event type")
		return nil
	}
}

// renew confirms payment: the subscription goes (back) to active and
// its period rolls forward, resetting the usage counters.
func (s *Service) renew(ctx context.Context, event *ProviderEvent) error {
	if err := s.ledger.ApplyStatus(ctx, event.BusinessID, enums.SubscriptionStatusActive); err != nil {
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
			return err
		}
	}

	periodEnd := time.Time{}
	if event.PeriodEnd != nil {
		periodEnd = *event.PeriodEnd
	}
	if periodEnd.IsZero() {
		report, err := s.ledger.Usage(ctx, event.BusinessID)
		if err != nil {
			return err
		}
		periodEnd = subscriptions.NextRenewal(report.PlanTier, report.RenewsAt)
	}
	return s.ledger.ResetPeriod(ctx, event.BusinessID, periodEnd)
}
