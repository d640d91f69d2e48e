package schedule

import (
	"fmt"
	"time"
)

// Kind selects the evaluation and expiry rules for a schedule.
type Kind string

const (
	// KindDaily fires every day at TimeOfDay and never expires on its own.
	KindDaily Kind = "daily"
	// KindCountdown fires every day until EndDate, counting down the days.
	// The day after EndDate it retires with a terminal notification.
	KindCountdown Kind = "countdown"
	// KindRepeating fires every day until EndDate, then retires silently.
	KindRepeating Kind = "repeating"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDaily, KindCountdown, KindRepeating:
		return true
	}
	return false
}

// RequiresEndDate reports whether the kind must carry an end date.
// Daily schedules must not; countdown/repeating must.
func (k Kind) RequiresEndDate() bool { return k == KindCountdown || k == KindRepeating }

// Schedule is the unit of persistence and scheduling.
//
// TimeOfDay and EndDate are kept in their stored string forms ("HH:MM",
// "YYYY-MM-DD") so that rows that fail to parse can still be listed for
// manual correction. Trigger() produces the parsed, evaluable form.
//
// Timezone is the IANA zone resolved from the chat's setting when the
// schedule was created. It is pinned for the schedule's lifetime; later
// /settimezone changes do not affect existing schedules.
type Schedule struct {
	ID        int64
	ChatID    int64
	Kind      Kind
	TimeOfDay string
	EndDate   string // empty for daily
	Content   string // message template, or countdown title
	Timezone  string
	CreatedAt time.Time
}

// ValidationError reports malformed schedule input. It is returned before
// anything is persisted.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Validate checks the record's invariants: known kind, parseable time of day,
// the kind/end-date pairing, and a resolvable timezone.
func (s *Schedule) Validate() error {
	if !s.Kind.Valid() {
		return &ValidationError{Field: "kind", Value: string(s.Kind), Reason: "unknown schedule kind"}
	}
	if _, _, err := ParseTimeOfDay(s.TimeOfDay); err != nil {
		return err
	}
	if s.Kind.RequiresEndDate() {
		if s.EndDate == "" {
			return &ValidationError{Field: "end_date", Value: "", Reason: string(s.Kind) + " requires an end date"}
		}
		if _, err := ParseDate(s.EndDate); err != nil {
			return err
		}
	} else if s.EndDate != "" {
		return &ValidationError{Field: "end_date", Value: s.EndDate, Reason: "daily schedules do not take an end date"}
	}
	if s.Content == "" {
		return &ValidationError{Field: "content", Value: "", Reason: "empty message"}
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return &ValidationError{Field: "timezone", Value: s.Timezone, Reason: "unknown IANA zone"}
	}
	return nil
}
