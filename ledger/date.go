package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// CALENDAR DATES - Leave is booked in whole UTC calendar days
// =============================================================================

// DateLayout is the wire format for request dates.
const DateLayout = "2006-01-02"

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay normalizes t to midnight UTC of its calendar day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders a date in DateLayout; the zero time renders empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// DurationDays counts calendar days in [start, end], both ends inclusive.
// 2024-03-01..2024-03-09 is 9 days. Returns 0 when end is before start.
func DurationDays(start, end time.Time) int {
	s, e := TruncateDay(start), TruncateDay(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}
