package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
)

// Repository defines persistence operations for the usage ledger and
// plan catalog. Counter mutations are conditional updates only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	FindByBusiness(ctx context.Context, businessID uuid.UUID) (*models.Subscription, error)
	FindPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error)
	ListPlans(ctx context.Context) ([]models.BillingPlan, error)
	// IncrementUsageGuarded bumps one counter only when the subscription
	// is admissible and the new value stays within the limit. It reports
	// whether a row was changed.
	IncrementUsageGuarded(ctx context.Context, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (bool, error)
	// ResetPeriodGuarded zeroes every usage counter and rolls renews_at
	// forward. Limits are untouched.
	ResetPeriodGuarded(ctx context.Context, businessID uuid.UUID, newRenewsAt, resetAt time.Time) (bool, error)
	// UpdatePlan swaps the tier and denormalizes the plan's limits onto
	// the subscription row. Usage counters are untouched.
	UpdatePlan(ctx context.Context, businessID uuid.UUID, plan *models.BillingPlan) (bool, error)
	// UpdateStatusGuarded applies a billing-driven status change only
	// when the subscription is still in the expected status.
	UpdateStatusGuarded(ctx context.Context, businessID uuid.UUID, from, to enums.SubscriptionStatus) (bool, error)
	ListDueForRenewal(ctx context.Context, before time.Time, limit int) ([]models.Subscription, error)
}
