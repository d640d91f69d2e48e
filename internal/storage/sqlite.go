package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (or creates) the SQLite database at cfg.Path, applies pragmas,
// runs migrations, and returns the store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateSchedule(ctx context.Context, rec *schedule.Schedule) (int64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(chat_id, kind, time_of_day, end_date, content, timezone, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		rec.ChatID, string(rec.Kind), rec.TimeOfDay, nullStr(rec.EndDate), rec.Content, rec.Timezone,
		created.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.ID = id
	rec.CreatedAt = created
	return id, nil
}

const scheduleCols = `id, chat_id, kind, time_of_day, end_date, content, timezone, created_at`

func (s *sqliteStore) GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	rec, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Schedule{}, ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleCols+` FROM schedules ORDER BY id`)
}

func (s *sqliteStore) ListChatSchedules(ctx context.Context, chatID int64) ([]schedule.Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE chat_id = ? ORDER BY id`, chatID)
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ChatTimezone(ctx context.Context, chatID int64) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone FROM chat_timezones WHERE chat_id = ?`, chatID).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "UTC", nil
	}
	if err != nil {
		return "", err
	}
	return tz, nil
}

func (s *sqliteStore) SetChatTimezone(ctx context.Context, chatID int64, tz string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_timezones(chat_id, timezone) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET timezone=excluded.timezone`,
		chatID, tz,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(sc scanner) (schedule.Schedule, error) {
	var (
		rec       schedule.Schedule
		kind      string
		endDate   sql.NullString
		createdAt string
	)
	if err := sc.Scan(&rec.ID, &rec.ChatID, &kind, &rec.TimeOfDay, &endDate, &rec.Content, &rec.Timezone, &createdAt); err != nil {
		return schedule.Schedule{}, err
	}
	rec.Kind = schedule.Kind(kind)
	if endDate.Valid {
		rec.EndDate = endDate.String
	}
	// created_at is informational; a bad value must not block listing.
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return rec, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
