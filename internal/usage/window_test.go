package usage

import (
	"testing"
	"time"

	"github.com/dissertia/dissertia-api/pkg/db/models"
	"github.com/dissertia/dissertia-api/pkg/enums"
)

func TestWindowForStepsFromAnchor(t *testing.T) {
	anchor := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{name: "at anchor", now: anchor, wantStart: anchor},
		{name: "inside first window", now: anchor.Add(29 * 24 * time.Hour), wantStart: anchor},
		{name: "exact boundary starts next window", now: anchor.Add(30 * 24 * time.Hour), wantStart: anchor.Add(30 * 24 * time.Hour)},
		{name: "third window", now: anchor.Add(75 * 24 * time.Hour), wantStart: anchor.Add(60 * 24 * time.Hour)},
		{name: "clock before anchor", now: anchor.Add(-time.Hour), wantStart: anchor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowFor(anchor, tt.now, DefaultWindowLength)
			if !w.Start.Equal(tt.wantStart) {
				t.Fatalf("expected start %s, got %s", tt.wantStart, w.Start)
			}
			if got := w.End.Sub(w.Start); got != DefaultWindowLength {
				t.Fatalf("expected window length %s, got %s", DefaultWindowLength, got)
			}
		})
	}
}

func TestWindowForTruncatesSubSecondAnchor(t *testing.T) {
	anchor := time.Date(2026, 1, 10, 9, 30, 0, 123456789, time.UTC)
	a := WindowFor(anchor, anchor.Add(time.Hour), DefaultWindowLength)
	b := WindowFor(anchor.Truncate(time.Microsecond), anchor.Add(time.Hour), DefaultWindowLength)
	if !a.Start.Equal(b.Start) {
		t.Fatalf("expected equal starts, got %s and %s", a.Start, b.Start)
	}
}

func TestDaysUntilReset(t *testing.T) {
	w := Window{
		Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	if got := w.DaysUntilReset(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); got != 2 {
		t.Fatalf("expected 2 days, got %d", got)
	}
	if got := w.DaysUntilReset(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)); got != 1 {
		t.Fatalf("expected partial day to round up to 1, got %d", got)
	}
	if got := w.DaysUntilReset(w.End.Add(time.Minute)); got != 0 {
		t.Fatalf("expected 0 after window end, got %d", got)
	}
}

func TestWindowLabel(t *testing.T) {
	w := Window{
		Start: time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
	}
	if got := w.Label(); got != "15/09/2026 a 14/10/2026" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestAnchorFor(t *testing.T) {
	signup := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	subStart := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	user := &models.User{CreatedAt: signup}

	if got := AnchorFor(nil, user); !got.Equal(signup) {
		t.Fatalf("expected signup anchor, got %s", got)
	}
	live := &models.Subscription{Status: enums.SubscriptionStatusActive, StartDate: subStart}
	if got := AnchorFor(live, user); !got.Equal(subStart) {
		t.Fatalf("expected subscription anchor, got %s", got)
	}
	ended := &models.Subscription{Status: enums.SubscriptionStatusExpired, StartDate: subStart}
	if got := AnchorFor(ended, user); !got.Equal(signup) {
		t.Fatalf("expected signup anchor for expired subscription, got %s", got)
	}
}
