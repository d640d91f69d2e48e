package schedule

import (
	"testing"
	"time"
)

func mustTrigger(t *testing.T, s Schedule) Trigger {
	t.Helper()
	trig, err := s.Trigger()
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	return trig
}

func TestDueAtExactMinute(t *testing.T) {
	t.Parallel()
	trig := mustTrigger(t, Schedule{Kind: KindDaily, TimeOfDay: "09:00", Content: "x", Timezone: "UTC"})

	tests := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{name: "exact", now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), due: true},
		{name: "mid-minute", now: time.Date(2024, 1, 1, 9, 0, 42, 0, time.UTC), due: true},
		{name: "minute before", now: time.Date(2024, 1, 1, 8, 59, 59, 0, time.UTC), due: false},
		{name: "minute after", now: time.Date(2024, 1, 1, 9, 1, 0, 0, time.UTC), due: false},
		{name: "wrong hour", now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), due: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := trig.DueAt(tt.now); got != tt.due {
				t.Fatalf("DueAt(%v) = %v, want %v", tt.now, got, tt.due)
			}
		})
	}
}

func TestDueAtUsesRecordZone(t *testing.T) {
	t.Parallel()
	// 09:00 in Tokyo is 00:00 UTC.
	trig := mustTrigger(t, Schedule{Kind: KindDaily, TimeOfDay: "09:00", Content: "x", Timezone: "Asia/Tokyo"})

	if !trig.DueAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected due at 00:00 UTC for 09:00 Asia/Tokyo")
	}
	if trig.DueAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatal("must not be due at 09:00 UTC for 09:00 Asia/Tokyo")
	}
}

func TestExpiredAt(t *testing.T) {
	t.Parallel()
	trig := mustTrigger(t, Schedule{
		Kind: KindRepeating, TimeOfDay: "10:00", EndDate: "2024-01-03", Content: "x", Timezone: "UTC",
	})

	if trig.ExpiredAt(time.Date(2024, 1, 3, 23, 59, 0, 0, time.UTC)) {
		t.Fatal("must not be expired on the end date itself")
	}
	if !trig.ExpiredAt(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected expired the day after the end date")
	}

	daily := mustTrigger(t, Schedule{Kind: KindDaily, TimeOfDay: "10:00", Content: "x", Timezone: "UTC"})
	if daily.ExpiredAt(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("daily schedules never expire")
	}
}

func TestExpiredAtLocalDate(t *testing.T) {
	t.Parallel()
	// In Pacific/Auckland the calendar rolls over ~11-13h before UTC does.
	trig := mustTrigger(t, Schedule{
		Kind: KindCountdown, TimeOfDay: "10:00", EndDate: "2024-01-03", Content: "x", Timezone: "Pacific/Auckland",
	})

	// 2024-01-03 12:00 UTC is already 2024-01-04 in Auckland.
	if !trig.ExpiredAt(time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("expected expiry to follow the record's local calendar")
	}
	// 2024-01-03 08:00 UTC is 2024-01-03 21:00 in Auckland: still live.
	if trig.ExpiredAt(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)) {
		t.Fatal("must not expire while the local date equals the end date")
	}
}

func TestDaysUntil(t *testing.T) {
	t.Parallel()
	trig := mustTrigger(t, Schedule{
		Kind: KindCountdown, TimeOfDay: "10:00", EndDate: "2024-12-31", Content: "New Year", Timezone: "UTC",
	})

	tests := []struct {
		now  time.Time
		want int
	}{
		{now: time.Date(2024, 12, 21, 10, 0, 0, 0, time.UTC), want: 10},
		{now: time.Date(2024, 12, 30, 10, 0, 0, 0, time.UTC), want: 1},
		{now: time.Date(2024, 12, 31, 10, 0, 0, 0, time.UTC), want: 0},
		{now: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), want: -2},
	}
	for _, tt := range tests {
		if got := trig.DaysUntil(tt.now); got != tt.want {
			t.Fatalf("DaysUntil(%v) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestDaysUntilDecreasesByOnePerDay(t *testing.T) {
	t.Parallel()
	trig := mustTrigger(t, Schedule{
		Kind: KindCountdown, TimeOfDay: "09:30", EndDate: "2024-03-20", Content: "x", Timezone: "Europe/Berlin",
	})

	// Walk across the March DST transition; whole-day distance must still
	// decrease by exactly 1 per local day.
	prev := trig.DaysUntil(time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC))
	for d := 11; d <= 20; d++ {
		got := trig.DaysUntil(time.Date(2024, 3, d, 9, 30, 0, 0, time.UTC))
		if got != prev-1 {
			t.Fatalf("day %d: DaysUntil = %d, want %d", d, got, prev-1)
		}
		prev = got
	}
	if prev != 0 {
		t.Fatalf("expected 0 on the end date, got %d", prev)
	}
}

func TestTriggerRejectsMalformedStoredData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		s    Schedule
	}{
		{name: "bad time", s: Schedule{Kind: KindDaily, TimeOfDay: "25:00", Content: "x", Timezone: "UTC"}},
		{name: "bad zone", s: Schedule{Kind: KindDaily, TimeOfDay: "09:00", Content: "x", Timezone: "Mars/Olympus"}},
		{name: "bad end date", s: Schedule{Kind: KindCountdown, TimeOfDay: "09:00", EndDate: "soon", Content: "x", Timezone: "UTC"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.s.Trigger(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFireKeyIsLocalMinute(t *testing.T) {
	t.Parallel()
	trig := mustTrigger(t, Schedule{Kind: KindDaily, TimeOfDay: "09:00", Content: "x", Timezone: "Asia/Tokyo"})

	a := trig.FireKey(time.Date(2024, 6, 1, 0, 0, 5, 0, time.UTC))
	b := trig.FireKey(time.Date(2024, 6, 1, 0, 0, 55, 0, time.UTC))
	if a != b {
		t.Fatalf("same minute produced different keys: %q vs %q", a, b)
	}
	if a != "2024-06-01 09:00" {
		t.Fatalf("key not in record-local time: %q", a)
	}
}
