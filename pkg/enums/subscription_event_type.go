package enums

import "fmt"

// SubscriptionEventType labels entries in the subscription audit trail.
type SubscriptionEventType string

const (
	SubscriptionEventTypeCreated         SubscriptionEventType = "created"
	SubscriptionEventTypeCancelRequested SubscriptionEventType = "cancel_requested"
	SubscriptionEventTypeReactivated     SubscriptionEventType = "reactivated"
	SubscriptionEventTypeCancelled       SubscriptionEventType = "cancelled"
	SubscriptionEventTypeExpired         SubscriptionEventType = "expired"
	SubscriptionEventTypeRenewed         SubscriptionEventType = "renewed"
	SubscriptionEventTypePlanChanged     SubscriptionEventType = "plan_changed"
)

var validSubscriptionEventTypes = []SubscriptionEventType{
	SubscriptionEventTypeCreated,
	SubscriptionEventTypeCancelRequested,
	SubscriptionEventTypeReactivated,
	SubscriptionEventTypeCancelled,
	SubscriptionEventTypeExpired,
	SubscriptionEventTypeRenewed,
	SubscriptionEventTypePlanChanged,
}

// String implements fmt.Stringer.
func (s SubscriptionEventType) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionEventType) IsValid() bool {
	for _, candidate := range validSubscriptionEventTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionEventType converts raw input into a SubscriptionEventType.
func ParseSubscriptionEventType(value string) (SubscriptionEventType, error) {
	for _, candidate := range validSubscriptionEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription event type %q", value)
}
