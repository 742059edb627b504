package enums

import (
	"fmt"
	"strings"
)

// AIOperationKind names the AI-powered actions that consume quota.
type AIOperationKind string

const (
	AIOperationKindEssayFeedback   AIOperationKind = "essay_feedback"
	AIOperationKindEssayOutline    AIOperationKind = "essay_outline"
	AIOperationKindThemeSuggestion AIOperationKind = "theme_suggestion"
)

var validAIOperationKinds = []AIOperationKind{
	AIOperationKindEssayFeedback,
	AIOperationKindEssayOutline,
	AIOperationKindThemeSuggestion,
}

// String implements fmt.Stringer.
func (a AIOperationKind) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AIOperationKind) IsValid() bool {
	for _, candidate := range validAIOperationKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAIOperationKind converts raw input into a AIOperationKind.
func ParseAIOperationKind(value string) (AIOperationKind, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validAIOperationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ai operation kind %q", value)
}
