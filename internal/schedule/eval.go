package schedule

import "time"

// Trigger is the parsed, evaluable form of a Schedule. Building it is the
// only place stored strings are interpreted; a row that fails here is left
// unregistered but still listable.
type Trigger struct {
	Hour   int
	Minute int
	End    time.Time // civil end date at midnight UTC; zero when HasEnd is false
	HasEnd bool
	Loc    *time.Location
}

// Trigger parses the schedule's stored fields into an evaluable Trigger.
func (s *Schedule) Trigger() (Trigger, error) {
	h, m, err := ParseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return Trigger{}, err
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Trigger{}, &ValidationError{Field: "timezone", Value: s.Timezone, Reason: "unknown IANA zone"}
	}
	t := Trigger{Hour: h, Minute: m, Loc: loc}
	if s.Kind.RequiresEndDate() {
		end, err := ParseDate(s.EndDate)
		if err != nil {
			return Trigger{}, err
		}
		t.End = end
		t.HasEnd = true
	}
	return t, nil
}

// DueAt reports whether the trigger fires at the given instant: the local
// hour and minute in the trigger's zone exactly equal the time of day.
// Granularity is one minute; the dispatch loop is responsible for firing
// at most once per distinct local (date, hour, minute).
func (t Trigger) DueAt(now time.Time) bool {
	local := now.In(t.Loc)
	return local.Hour() == t.Hour && local.Minute() == t.Minute
}

// ExpiredAt reports whether the local calendar date is strictly after the
// end date. Triggers without an end date never expire. On the end date
// itself the trigger is still live (a countdown renders its "today"
// message then; it is retired by the first tick of the following day).
func (t Trigger) ExpiredAt(now time.Time) bool {
	if !t.HasEnd {
		return false
	}
	return civilDate(now.In(t.Loc)).After(t.End)
}

// DaysUntil returns the whole local days from now to the end date:
// 0 on the end date, negative once it has passed.
func (t Trigger) DaysUntil(now time.Time) int {
	return int(t.End.Sub(civilDate(now.In(t.Loc))) / (24 * time.Hour))
}

// FireKey identifies the local minute an instant falls in, in the trigger's
// zone. The dispatch loop records it per schedule to guarantee at-most-once
// firing even when a delayed tick overlaps a minute boundary.
func (t Trigger) FireKey(now time.Time) string {
	return now.In(t.Loc).Format("2006-01-02 15:04")
}
