package enums

import "fmt"

// BroadcastStatus tracks the delivery state of a vendor broadcast.
type BroadcastStatus string

const (
	BroadcastStatusDraft  BroadcastStatus = "draft"
	BroadcastStatusQueued BroadcastStatus = "queued"
	BroadcastStatusSent   BroadcastStatus = "sent"
)

var validBroadcastStatuses = []BroadcastStatus{
	BroadcastStatusDraft,
	BroadcastStatusQueued,
	BroadcastStatusSent,
}

// String implements fmt.Stringer.
func (b BroadcastStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BroadcastStatus.
func (b BroadcastStatus) IsValid() bool {
	for _, candidate := range validBroadcastStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBroadcastStatus converts raw input into a BroadcastStatus.
func ParseBroadcastStatus(value string) (BroadcastStatus, error) {
	for _, candidate := range validBroadcastStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid broadcast status %q", value)
}
