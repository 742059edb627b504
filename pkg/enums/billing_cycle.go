package enums

import (
	"fmt"
	"strings"
	"time"
)

// BillingCycle defines how often a paid plan renews.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

var validBillingCycles = []BillingCycle{
	BillingCycleMonthly,
	BillingCycleYearly,
}

// String implements fmt.Stringer.
func (b BillingCycle) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BillingCycle) IsValid() bool {
	for _, candidate := range validBillingCycles {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingCycle converts raw input into a BillingCycle.
func ParseBillingCycle(value string) (BillingCycle, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validBillingCycles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}

// Period returns the renewal length for the cycle.
func (b BillingCycle) Period() time.Duration {
	if b == BillingCycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
