package enums

import "fmt"

// PlanTier identifies a subscription plan. Tiers are ordered so that
// upgrade/downgrade comparisons are meaningful.
type PlanTier string

const (
	PlanTierFree       PlanTier = "free"
	PlanTierDaily      PlanTier = "daily"
	PlanTierWeekly     PlanTier = "weekly"
	PlanTierMonthly    PlanTier = "monthly"
	PlanTierQuarterly  PlanTier = "quarterly"
	PlanTierSemiannual PlanTier = "semiannual"
	PlanTierAnnual     PlanTier = "annual"
)

var planTierRank = map[PlanTier]int{
	PlanTierFree:       0,
	PlanTierDaily:      1,
	PlanTierWeekly:     2,
	PlanTierMonthly:    3,
	PlanTierQuarterly:  4,
	PlanTierSemiannual: 5,
	PlanTierAnnual:     6,
}

// String implements fmt.Stringer.
func (p PlanTier) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanTier.
func (p PlanTier) IsValid() bool {
	_, ok := planTierRank[p]
	return ok
}

// Rank returns the tier's position in the plan ordering. Unknown tiers rank
// below free.
func (p PlanTier) Rank() int {
	if rank, ok := planTierRank[p]; ok {
		return rank
	}
	return -1
}

// Compare returns -1, 0, or 1 as p orders before, equal to, or after other.
func (p PlanTier) Compare(other PlanTier) int {
	switch {
	case p.Rank() < other.Rank():
		return -1
	case p.Rank() > other.Rank():
		return 1
	default:
		return 0
	}
}

// ParsePlanTier converts raw input into a PlanTier.
func ParsePlanTier(value string) (PlanTier, error) {
	tier := PlanTier(value)
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid plan tier %q", value)
	}
	return tier, nil
}
