package enums

import "fmt"

// EventActor identifies who triggered a subscription change.
type EventActor string

const (
	EventActorUser    EventActor = "user"
	EventActorWebhook EventActor = "webhook"
	EventActorSystem  EventActor = "system"
)

var validEventActors = []EventActor{
	EventActorUser,
	EventActorWebhook,
	EventActorSystem,
}

// String implements fmt.Stringer.
func (e EventActor) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e EventActor) IsValid() bool {
	for _, candidate := range validEventActors {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventActor converts raw input into a EventActor.
func ParseEventActor(value string) (EventActor, error) {
	for _, candidate := range validEventActors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event actor %q", value)
}
