package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Render substitutes the recognized placeholders in a message template with
// values computed from the given instant. Unknown placeholders are left
// verbatim; rendering never fails.
//
// Recognized: {date} {time} {day} {month} {year}.
//
// The scan is a single left-to-right pass over the template, so replacement
// values can never be re-matched as tokens themselves.
func Render(template string, now time.Time) string {
	r := strings.NewReplacer(
		"{date}", now.Format("2006-01-02"),
		"{time}", now.Format("15:04"),
		"{day}", now.Format("Monday"),
		"{month}", now.Format("January"),
		"{year}", now.Format("2006"),
	)
	return r.Replace(template)
}

// CountdownText synthesizes the daily countdown message for a title and its
// end date. days is the whole-day distance as seen in the schedule's zone.
//
// days < 0 should be unreachable during normal ticking (expired schedules
// are retired first) but renders a sensible message rather than failing.
func CountdownText(title string, end time.Time, days int) string {
	target := end.Format("January 2, 2006")
	switch {
	case days > 0:
		return fmt.Sprintf("⏳ %d %s remaining until %s! Target date: %s.", days, pluralDays(days), title, target)
	case days == 0:
		return fmt.Sprintf("🎉 %s is today! The wait is over.", title)
	default:
		return fmt.Sprintf("%s completed %d %s ago (%s).", title, -days, pluralDays(-days), target)
	}
}

// CountdownEnded is the terminal notification sent when a countdown is
// retired, the day after its end date.
func CountdownEnded(title string) string {
	return fmt.Sprintf("Countdown for %s has ended.", title)
}

func pluralDays(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
