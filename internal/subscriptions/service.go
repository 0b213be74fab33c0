package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/metrics"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/payloads"
)

// Usage past this share of the limit emits a one-shot warning event.
const warnThresholdPct = 80

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// MetricUsage is one counter/limit pair in a usage report.
type MetricUsage struct {
	Metric enums.UsageMetric `json:"metric"`
	Usage  int64             `json:"usage"`
	Limit  int64             `json:"limit"`
}

// UsageReport is the point-in-time ledger view for a business.
type UsageReport struct {
	BusinessID uuid.UUID                `json:"business_id"`
	PlanTier   enums.PlanTier           `json:"plan_tier"`
	Status     enums.SubscriptionStatus `json:"status"`
	RenewsAt   time.Time                `json:"renews_at"`
	Metrics    []MetricUsage            `json:"metrics"`
}

// Service is the subscription usage ledger. It admits or denies metered
// actions against plan limits and manages the billing period counters.
// Status transitions are applied on behalf of the billing collaborator,
// never in reaction to usage.
type Service interface {
	// CheckAndIncrement admits a metered action. The check and the
	// increment are one conditional update, so concurrent calls at the
	// limit boundary can never both pass. On success it returns the new
	// usage value; on denial it returns a quota error carrying the
	// metric, attempted amount, current usage, and limit, with the
	// counter unchanged. Pass the caller's transaction when the action
	// and its metering must commit together; tx may be nil.
	CheckAndIncrement(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (int64, error)
	// ResetPeriod zeroes every usage counter and rolls renews_at
	// forward. Limits are untouched. Invoked by the billing cron or
	// webhook consumer only.
	ResetPeriod(ctx context.Context, businessID uuid.UUID, newRenewsAt time.Time) error
	// ApplyStatus records a billing-driven lifecycle change.
	ApplyStatus(ctx context.Context, businessID uuid.UUID, to enums.SubscriptionStatus) error
	CreateForBusiness(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error)
	ChangePlan(ctx context.Context, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error)
	Usage(ctx context.Context, businessID uuid.UUID) (*UsageReport, error)
	LimitsForPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error)
	Plans(ctx context.Context) ([]models.BillingPlan, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	domain *metrics.DomainMetrics
}

// NewService builds the ledger service. The metrics recorder may be nil.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, domain *metrics.DomainMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outboxSvc,
		domain: domain,
	}, nil
}

func (s *service) CheckAndIncrement(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (int64, error) {
	if businessID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !metric.IsValid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "unknown usage metric")
	}
	if amount <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var newUsage int64
	run := func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		changed, err := repo.IncrementUsageGuarded(ctx, businessID, metric, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment usage")
		}
		if !changed {
			s.domain.IncQuotaDenied(metric.String())
			return s.denialError(ctx, repo, businessID, metric, amount)
		}
		s.domain.IncQuotaAllowed(metric.String())

		sub, err := repo.FindByBusiness(ctx, businessID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
		}
		newUsage = sub.UsageFor(metric)
		return s.maybeEmitThreshold(ctx, tx, sub, metric, amount)
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.tx.WithTx(ctx, run)
	}
	if err != nil {
		return 0, err
	}
	return newUsage, nil
}

// denialError distinguishes a genuine quota denial from a missing or
// inadmissible subscription after the guard found no row.
func (s *service) denialError(ctx context.Context, repo Repository, businessID uuid.UUID, metric enums.UsageMetric, amount int64) error {
	sub, err := repo.FindByBusiness(ctx, businessID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if !admissible(sub.Status) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not active").
			WithDetails(map[string]any{"status": sub.Status})
	}
	return pkgerrors.New(pkgerrors.CodeQuotaExceeded, "plan limit reached for metric").
		WithDetails(map[string]any{
			"metric":    metric,
			"requested": amount,
			"usage":     sub.UsageFor(metric),
			"limit":     sub.LimitFor(metric),
		})
}

func (s *service) maybeEmitThreshold(ctx context.Context, tx *gorm.DB, sub *models.Subscription, metric enums.UsageMetric, amount int64) error {
	limit := sub.LimitFor(metric)
	if limit <= 0 {
		return nil
	}
	usage := sub.UsageFor(metric)
	previous := usage - amount
	threshold := limit * warnThresholdPct / 100
	if previous > threshold || usage <= threshold {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventQuotaThresholdReached,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Version:       1,
		Data: payloads.QuotaThresholdReachedEvent{
			SubscriptionID: sub.ID,
			BusinessID:     sub.BusinessID,
			Metric:         metric,
			Usage:          usage,
			Limit:          limit,
			ThresholdPct:   warnThresholdPct,
		},
	})
}

func (s *service) ResetPeriod(ctx context.Context, businessID uuid.UUID, newRenewsAt time.Time) error {
	if businessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if newRenewsAt.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "new renewal time required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByBusiness(ctx, businessID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if !newRenewsAt.After(sub.RenewsAt) {
			return pkgerrors.New(pkgerrors.CodeValidation, "new renewal must be after the current one")
		}

		resetAt := time.Now()
		changed, err := repo.ResetPeriodGuarded(ctx, businessID, newRenewsAt, resetAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset period")
		}
		if !changed {
			// A concurrent reset already rolled the period past ours.
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionPeriodReset,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionPeriodResetEvent{
				SubscriptionID: sub.ID,
				BusinessID:     sub.BusinessID,
				PlanTier:       sub.PlanTier,
				ResetAt:        resetAt,
				NextRenewal:    newRenewsAt,
			},
		})
	})
}

func (s *service) ApplyStatus(ctx context.Context, businessID uuid.UUID, to enums.SubscriptionStatus) error {
	if businessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByBusiness(ctx, businessID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub.Status == to {
			return nil
		}

		changed, err := repo.UpdateStatusGuarded(ctx, businessID, sub.Status, to)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription status")
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription changed concurrently")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionStatusChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: sub.ID,
				BusinessID:     sub.BusinessID,
				PlanTier:       sub.PlanTier,
				From:           sub.Status,
				To:             to,
			},
		})
	})
}

func (s *service) CreateForBusiness(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if tier == "" {
		tier = enums.PlanTierFree
	}
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier")
	}

	repo := s.repo.WithTx(tx)
	plan, err := repo.FindPlan(ctx, tier)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}

	now := time.Now()
	status := enums.SubscriptionStatusActive
	if plan.TrialDays > 0 {
		status = enums.SubscriptionStatusTrialing
	}
	sub := &models.Subscription{
		BusinessID:        businessID,
		PlanTier:          plan.Tier,
		Status:            status,
		LimitMessagesSent: plan.LimitMessagesSent,
		LimitToolCalls:    plan.LimitToolCalls,
		LimitBroadcasts:   plan.LimitBroadcasts,
		LimitStorageMB:    plan.LimitStorageMB,
		StartsAt:          now,
		RenewsAt:          NextRenewal(plan.Tier, now),
	}
	if _, err := repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return sub, nil
}

func (s *service) ChangePlan(ctx context.Context, businessID uuid.UUID, tier enums.PlanTier) (*models.Subscription, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier")
	}

	var updated *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByBusiness(ctx, businessID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub.PlanTier == tier {
			updated = sub
			return nil
		}
		plan, err := repo.FindPlan(ctx, tier)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
		}

		// Usage carries across a plan change. A downgrade can leave a
		// counter over its new limit; further increments are denied
		// until the next period reset.
		changed, err := repo.UpdatePlan(ctx, businessID, plan)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update plan")
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription changed concurrently")
		}
		sub.PlanTier = plan.Tier
		sub.LimitMessagesSent = plan.LimitMessagesSent
		sub.LimitToolCalls = plan.LimitToolCalls
		sub.LimitBroadcasts = plan.LimitBroadcasts
		sub.LimitStorageMB = plan.LimitStorageMB
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Usage(ctx context.Context, businessID uuid.UUID) (*UsageReport, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	sub, err := s.repo.FindByBusiness(ctx, businessID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	report := &UsageReport{
		BusinessID: sub.BusinessID,
		PlanTier:   sub.PlanTier,
		Status:     sub.Status,
		RenewsAt:   sub.RenewsAt,
	}
	for _, metric := range enums.AllUsageMetrics() {
		report.Metrics = append(report.Metrics, MetricUsage{
			Metric: metric,
			Usage:  sub.UsageFor(metric),
			Limit:  sub.LimitFor(metric),
		})
	}
	return report, nil
}

func (s *service) LimitsForPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error) {
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier")
	}
	plan, err := s.repo.FindPlan(ctx, tier)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	return plan, nil
}

func (s *service) Plans(ctx context.Context) ([]models.BillingPlan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

func admissible(status enums.SubscriptionStatus) bool {
	for _, candidate := range admissibleStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

// NextRenewal computes the period end for a tier starting at from.
func NextRenewal(tier enums.PlanTier, from time.Time) time.Time {
	switch tier {
	case enums.PlanTierDaily:
		return from.AddDate(0, 0, 1)
	case enums.PlanTierWeekly:
		return from.AddDate(0, 0, 7)
	case enums.PlanTierQuarterly:
		return from.AddDate(0, 3, 0)
	case enums.PlanTierSemiannual:
		return from.AddDate(0, 6, 0)
	case enums.PlanTierAnnual:
		return from.AddDate(1, 0, 0)
	default:
		// free and monthly both reset monthly
		return from.AddDate(0, 1, 0)
	}
}
