// Package storage persists schedules and per-chat timezone settings.
//
// It is pure CRUD: no scheduling logic lives here. After a restart the
// database is the sole source of truth; the dispatch engine rebuilds its
// in-memory trigger set from it.
package storage

import (
	"context"
	"errors"
	"time"

	"schedbot/internal/schedule"
)

// ErrNotFound is returned when a schedule id does not exist.
var ErrNotFound = errors.New("schedule not found")

// Config configures the SQLite database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the dispatch engine and the
// command layer. All operations are individually atomic.
type Store interface {
	// CreateSchedule persists a new record and returns its assigned id.
	// Ids are unique for the lifetime of the database and never reused.
	CreateSchedule(ctx context.Context, s *schedule.Schedule) (int64, error)
	GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error)
	// ListSchedules returns every persisted schedule.
	ListSchedules(ctx context.Context) ([]schedule.Schedule, error)
	// ListChatSchedules returns the schedules owned by one chat.
	ListChatSchedules(ctx context.Context, chatID int64) ([]schedule.Schedule, error)
	// DeleteSchedule removes a record; it reports false if the id was absent.
	DeleteSchedule(ctx context.Context, id int64) (bool, error)

	// ChatTimezone returns the chat's IANA zone name, defaulting to UTC
	// when the chat has no setting.
	ChatTimezone(ctx context.Context, chatID int64) (string, error)
	SetChatTimezone(ctx context.Context, chatID int64, tz string) error

	Close() error
}
