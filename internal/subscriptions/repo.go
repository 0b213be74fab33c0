package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Statuses that still admit metered actions. past_due and canceled
// subscriptions are denied at the guard, not in application code.
var admissibleStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusTrialing,
	enums.SubscriptionStatusActive,
	enums.SubscriptionStatusGrace,
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *repository) FindByBusiness(ctx context.Context, businessID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).
		Where("tier = ?", tier).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	if err := r.db.WithContext(ctx).Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) IncrementUsageGuarded(ctx context.Context, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (bool, error) {
	usageCol, limitCol, err := counterColumns(metric)
	if err != nil {
		return false, err
	}

	// Check-then-increment as one statement. A negative limit means the
	// metric is unmetered for the plan.
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("business_id = ?", businessID).
		Where("status IN ?", admissibleStatuses).
		Where(fmt.Sprintf("%s < 0 OR %s + ? <= %s", limitCol, usageCol, limitCol), amount).
		Updates(map[string]any{
			usageCol:     gorm.Expr(usageCol+" + ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ResetPeriodGuarded(ctx context.Context, businessID uuid.UUID, newRenewsAt, resetAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("business_id = ? AND renews_at <= ?", businessID, newRenewsAt).
		Updates(map[string]any{
			"usage_messages_sent": 0,
			"usage_tool_calls":    0,
			"usage_broadcasts":    0,
			"usage_storage_mb":    0,
			"renews_at":           newRenewsAt,
			"last_reset_at":       resetAt,
			"updated_at":          resetAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdatePlan(ctx context.Context, businessID uuid.UUID, plan *models.BillingPlan) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("business_id = ?", businessID).
		Updates(map[string]any{
			"plan_tier":           plan.Tier,
			"limit_messages_sent": plan.LimitMessagesSent,
			"limit_tool_calls":    plan.LimitToolCalls,
			"limit_broadcasts":    plan.LimitBroadcasts,
			"limit_storage_mb":    plan.LimitStorageMB,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateStatusGuarded(ctx context.Context, businessID uuid.UUID, from, to enums.SubscriptionStatus) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now(),
	}
	if to == enums.SubscriptionStatusCanceled {
		updates["canceled_at"] = time.Now()
	}
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("business_id = ? AND status = ?", businessID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListDueForRenewal(ctx context.Context, before time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("renews_at <= ? AND status IN ?", before, admissibleStatuses).
		Order("renews_at ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func counterColumns(metric enums.UsageMetric) (usageCol, limitCol string, err error) {
	switch metric {
	case enums.UsageMetricMessagesSent:
		return "usage_messages_sent", "limit_messages_sent", nil
	case enums.UsageMetricToolCalls:
		return "usage_tool_calls", "limit_tool_calls", nil
	case enums.UsageMetricBroadcasts:
		return "usage_broadcasts", "limit_broadcasts", nil
	case enums.UsageMetricStorageMB:
		return "usage_storage_mb", "limit_storage_mb", nil
	}
	return "", "", fmt.Errorf("unknown usage metric %q", metric)
}
