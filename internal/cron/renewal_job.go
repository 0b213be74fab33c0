package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/smartbizhq/smartbiz-backend/internal/subscriptions"
	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
)

const defaultRenewalBatch = 500

type subscriptionSource interface {
	ListDueForRenewal(ctx context.Context, before time.Time, limit int) ([]models.Subscription, error)
	FindPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error)
}

type usageLedger interface {
	ResetPeriod(ctx context.Context, businessID uuid.UUID, newRenewsAt time.Time) error
	ApplyStatus(ctx context.Context, businessID uuid.UUID, to enums.SubscriptionStatus) error
}

// RenewalJobParams configures the subscription renewal job.
type RenewalJobParams struct {
	Logger    *logger.Logger
	Repo      subscriptionSource
	Ledger    usageLedger
	BatchSize int
}

// NewRenewalJob constructs the job that rolls billing periods forward.
// Every due subscription gets its counters reset and renews_at advanced;
// subscriptions that exhausted their grace window lapse to past_due.
func NewRenewalJob(params RenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("usage ledger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRenewalBatch
	}
	return &renewalJob{
		logg:   params.Logger,
		repo:   params.Repo,
		ledger: params.Ledger,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type renewalJob struct {
	logg   *logger.Logger
	repo   subscriptionSource
	ledger usageLedger
	batch  int
	now    func() time.Time
}

func (j *renewalJob) Name() string { return "subscription-renewal" }

func (j *renewalJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	subs, err := j.repo.ListDueForRenewal(ctx, now, j.batch)
	if err != nil {
		return fmt.Errorf("query due subscriptions: %w", err)
	}

	var errs []error
	renewed, lapsed := 0, 0
	for _, sub := range subs {
		outcome, err := j.renew(ctx, sub, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		switch outcome {
		case outcomeRenewed:
			renewed++
		case outcomeLapsed:
			lapsed++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":     len(subs),
		"renewed": renewed,
		"lapsed":  lapsed,
	})
	j.logg.Info(logCtx, "renewal loop complete")
	return multierr.Combine(errs...)
}

type renewalOutcome int

const (
	outcomeRenewed renewalOutcome = iota
	outcomeLapsed
)

func (j *renewalJob) renew(ctx context.Context, sub models.Subscription, now time.Time) (renewalOutcome, error) {
	if sub.Status == enums.SubscriptionStatusGrace {
		plan, err := j.repo.FindPlan(ctx, sub.PlanTier)
		if err != nil {
			return 0, fmt.Errorf("load plan: %w", err)
		}
		deadline := sub.RenewsAt.AddDate(0, 0, plan.GraceDays)
		if now.After(deadline) {
			if err := j.ledger.ApplyStatus(ctx, sub.BusinessID, enums.SubscriptionStatusPastDue); err != nil {
				return 0, fmt.Errorf("lapse subscription: %w", err)
			}
			return outcomeLapsed, nil
		}
	}

	if sub.Status == enums.SubscriptionStatusTrialing {
		if err := j.ledger.ApplyStatus(ctx, sub.BusinessID, enums.SubscriptionStatusActive); err != nil {
			return 0, fmt.Errorf("end trial: %w", err)
		}
	}

	// Catch up past the current time so a long outage does not schedule
	// a renewal in the past.
	next := subscriptions.NextRenewal(sub.PlanTier, sub.RenewsAt)
	for !next.After(now) {
		next = subscriptions.NextRenewal(sub.PlanTier, next)
	}
	if err := j.ledger.ResetPeriod(ctx, sub.BusinessID, next); err != nil {
		return 0, fmt.Errorf("reset period: %w", err)
	}
	return outcomeRenewed, nil
}
