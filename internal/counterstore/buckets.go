package counterstore

import (
	"fmt"
	"time"
)

// Window is a calendar-aligned quota period. All concurrent callers within the
// same UTC period hash to the same bucket key.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Bucket returns the UTC calendar bucket string for t.
func (w Window) Bucket(t time.Time) string {
	t = t.UTC()
	switch w {
	case WindowWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case WindowMonthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// SecondsUntilBoundary returns the key TTL: the seconds remaining until the
// period boundary, padded by one so the counter outlives the last request of
// the period, and never less than one.
func (w Window) SecondsUntilBoundary(t time.Time) int {
	t = t.UTC()
	var boundary time.Time
	switch w {
	case WindowWeekly:
		daysUntilMonday := 7 - int(t.Weekday()-time.Monday)
		if t.Weekday() == time.Sunday {
			daysUntilMonday = 1
		}
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		boundary = midnight.AddDate(0, 0, daysUntilMonday)
	case WindowMonthly:
		boundary = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		boundary = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}

	seconds := int(boundary.Sub(t).Seconds()) + 1
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
