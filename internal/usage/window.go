package usage

import (
	"fmt"
	"time"

	"github.com/dissertia/dissertia-api/pkg/db/models"
)

// DefaultWindowLength is the usage cadence for every plan.
const DefaultWindowLength = 30 * 24 * time.Hour

const labelLayout = "02/01/2006"

// Window is a half-open usage interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window containing now for windows laid end to end
// from anchor. Anchors are truncated to the second so that values read back
// from storage and values held in memory produce the same key.
func WindowFor(anchor, now time.Time, length time.Duration) Window {
	if length <= 0 {
		length = DefaultWindowLength
	}
	anchor = anchor.UTC().Truncate(time.Second)
	now = now.UTC()

	var k int64
	if now.After(anchor) {
		k = int64(now.Sub(anchor) / length)
	}
	start := anchor.Add(time.Duration(k) * length)
	return Window{Start: start, End: start.Add(length)}
}

// AnchorFor picks the window anchor: the start of a live subscription, or the
// user's signup time otherwise.
func AnchorFor(sub *models.Subscription, user *models.User) time.Time {
	if sub != nil && sub.Status.IsLive() && !sub.StartDate.IsZero() {
		return sub.StartDate
	}
	if user != nil {
		return user.CreatedAt
	}
	return time.Time{}
}

// DaysUntilReset rounds the time left in the window up to whole days.
func (w Window) DaysUntilReset(now time.Time) int {
	remaining := w.End.Sub(now.UTC())
	if remaining <= 0 {
		return 0
	}
	day := 24 * time.Hour
	days := int(remaining / day)
	if remaining%day != 0 {
		days++
	}
	return days
}

// Label renders the window as an inclusive date range.
func (w Window) Label() string {
	last := w.End.Add(-time.Nanosecond)
	return fmt.Sprintf("%s a %s", w.Start.Format(labelLayout), last.Format(labelLayout))
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
