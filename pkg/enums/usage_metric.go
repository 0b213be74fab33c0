package enums

import "fmt"

// UsageMetric identifies a metered action tracked by the usage ledger.
type UsageMetric string

const (
	UsageMetricMessagesSent UsageMetric = "messages_sent"
	UsageMetricToolCalls    UsageMetric = "tool_calls"
	UsageMetricBroadcasts   UsageMetric = "broadcasts"
	UsageMetricStorageMB    UsageMetric = "storage_mb"
)

var validUsageMetrics = []UsageMetric{
	UsageMetricMessagesSent,
	UsageMetricToolCalls,
	UsageMetricBroadcasts,
	UsageMetricStorageMB,
}

// AllUsageMetrics returns every metered metric in a stable order.
func AllUsageMetrics() []UsageMetric {
	out := make([]UsageMetric, len(validUsageMetrics))
	copy(out, validUsageMetrics)
	return out
}

// String implements fmt.Stringer.
func (m UsageMetric) String() string {
	return string(m)
}

// IsValid reports whether the value is a known UsageMetric.
func (m UsageMetric) IsValid() bool {
	for _, candidate := range validUsageMetrics {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseUsageMetric converts raw input into a UsageMetric.
func ParseUsageMetric(value string) (UsageMetric, error) {
	for _, candidate := range validUsageMetrics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage metric %q", value)
}
