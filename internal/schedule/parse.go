package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseTimeOfDay parses a 24h "HH:MM" wall-clock string.
// One- and two-digit fields are accepted ("9:05" == "09:05").
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	bad := func(reason string) (int, int, error) {
		return 0, 0, &ValidationError{Field: "time_of_day", Value: s, Reason: reason}
	}
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return bad("expected HH:MM")
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return bad("hour out of range 0..23")
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return bad("minute out of range 0..59")
	}
	return hour, minute, nil
}

// FormatTimeOfDay renders the canonical zero-padded "HH:MM" form.
func FormatTimeOfDay(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// ParseDate parses a "YYYY-MM-DD" calendar date. The result is the civil
// date at midnight UTC; it carries no zone semantics of its own.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "end_date", Value: s, Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// civilDate maps an instant to its civil date in t's location,
// normalized to midnight UTC so date arithmetic is DST-free.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
