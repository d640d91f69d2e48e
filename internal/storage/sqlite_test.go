package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "schedbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	rec := &schedule.Schedule{
		ChatID:    -100123,
		Kind:      schedule.KindCountdown,
		TimeOfDay: "10:00",
		EndDate:   "2024-12-31",
		Content:   "New Year",
		Timezone:  "Europe/Berlin",
	}
	id, err := st.CreateSchedule(ctx, rec)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	got, err := st.GetSchedule(ctx, id)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.ChatID != rec.ChatID || got.Kind != rec.Kind || got.TimeOfDay != rec.TimeOfDay ||
		got.EndDate != rec.EndDate || got.Content != rec.Content || got.Timezone != rec.Timezone {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not persisted")
	}
}

func TestGetScheduleNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	_, err := st.GetSchedule(context.Background(), 4242)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSchedulesScoping(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, chat := range []int64{1, 1, 2} {
		_, err := st.CreateSchedule(ctx, &schedule.Schedule{
			ChatID: chat, Kind: schedule.KindDaily, TimeOfDay: "09:00", Content: "hi", Timezone: "UTC",
		})
		if err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
	}

	all, err := st.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 schedules, got %d", len(all))
	}

	scoped, err := st.ListChatSchedules(ctx, 1)
	if err != nil {
		t.Fatalf("ListChatSchedules: %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("expected 2 schedules for chat 1, got %d", len(scoped))
	}
}

func TestDeleteSchedule(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateSchedule(ctx, &schedule.Schedule{
		ChatID: 7, Kind: schedule.KindDaily, TimeOfDay: "09:00", Content: "hi", Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	ok, err := st.DeleteSchedule(ctx, id)
	if err != nil || !ok {
		t.Fatalf("DeleteSchedule = (%v, %v), want (true, nil)", ok, err)
	}
	// Second delete reports absent, not an error.
	ok, err = st.DeleteSchedule(ctx, id)
	if err != nil || ok {
		t.Fatalf("second DeleteSchedule = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestScheduleIDsNeverReused(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	mk := func() int64 {
		id, err := st.CreateSchedule(ctx, &schedule.Schedule{
			ChatID: 7, Kind: schedule.KindDaily, TimeOfDay: "09:00", Content: "hi", Timezone: "UTC",
		})
		if err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
		return id
	}

	first := mk()
	if _, err := st.DeleteSchedule(ctx, first); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	second := mk()
	if second <= first {
		t.Fatalf("id reused: first=%d second=%d", first, second)
	}
}

func TestChatTimezoneDefaultAndUpsert(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	tz, err := st.ChatTimezone(ctx, 55)
	if err != nil {
		t.Fatalf("ChatTimezone: %v", err)
	}
	if tz != "UTC" {
		t.Fatalf("default timezone = %q, want UTC", tz)
	}

	if err := st.SetChatTimezone(ctx, 55, "Asia/Tokyo"); err != nil {
		t.Fatalf("SetChatTimezone: %v", err)
	}
	if err := st.SetChatTimezone(ctx, 55, "Europe/Berlin"); err != nil {
		t.Fatalf("SetChatTimezone upsert: %v", err)
	}

	tz, err = st.ChatTimezone(ctx, 55)
	if err != nil {
		t.Fatalf("ChatTimezone: %v", err)
	}
	if tz != "Europe/Berlin" {
		t.Fatalf("timezone = %q, want Europe/Berlin", tz)
	}
}

func TestReopenSurvivesRestart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedbot.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := st.CreateSchedule(ctx, &schedule.Schedule{
		ChatID: 9, Kind: schedule.KindRepeating, TimeOfDay: "08:00", EndDate: "2024-06-01", Content: "standup", Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.GetSchedule(ctx, id)
	if err != nil {
		t.Fatalf("GetSchedule after reopen: %v", err)
	}
	if got.Kind != schedule.KindRepeating || got.EndDate != "2024-06-01" {
		t.Fatalf("unexpected record after reopen: %+v", got)
	}
}
