// Package dispatch owns the scheduling loop: a fixed-period tick that
// evaluates every active schedule against the current instant, renders the
// due ones, and hands them off for delivery.
//
// The engine also plays lifecycle manager: it rebuilds its in-memory trigger
// set from the store on startup and keeps it consistent with the store on
// create/remove. The in-memory set is never authoritative; the store is.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

// ErrNotFound is returned by Remove when the id does not exist in the
// caller's chat.
var ErrNotFound = errors.New("schedule not found")

// Notifier accepts a rendered message for asynchronous delivery. The tick
// loop never waits on a delivery; implementations must not block.
type Notifier interface {
	Enqueue(chatID int64, text string) error
}

type Config struct {
	// Tick is the evaluation period. Values <= 0 or above one minute fall
	// back to one minute: due-now matching works on minute granularity and
	// a longer period would skip minutes entirely.
	Tick time.Duration

	// Now is the clock used for evaluation. Defaults to time.Now.
	// Tests inject a fixed clock here.
	Now func() time.Time
}

type Engine struct {
	store storage.Store
	out   Notifier
	log   logx.Logger
	tick  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	triggers  map[int64]schedule.Trigger
	lastFired map[int64]string // schedule id -> local minute already fired

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, store storage.Store, out Notifier, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	tick := cfg.Tick
	if tick <= 0 || tick > time.Minute {
		tick = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     store,
		out:       out,
		log:       log,
		tick:      tick,
		now:       now,
		triggers:  map[int64]schedule.Trigger{},
		lastFired: map[int64]string{},
	}
}

// Restore loads every persisted schedule and registers it with the loop.
// It must run before Start so that the first tick sees the full set.
//
// A row whose stored fields fail to parse is logged and left unregistered,
// not deleted: it stays visible via List for manual correction.
func (e *Engine) Restore(ctx context.Context) error {
	recs, err := e.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		if err := e.register(rec); err != nil {
			e.log.Warn("skipping malformed persisted schedule",
				logx.Int64("id", rec.ID), logx.Int64("chat_id", rec.ChatID), logx.Err(err))
			continue
		}
		restored++
	}
	e.log.Info("schedules restored", logx.Int("count", restored), logx.Int("total", len(recs)))
	return nil
}

// Start launches the tick loop. Restore should have been called first.
func (e *Engine) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.sup != nil {
		return
	}
	e.sup = rtsup.New(ctx,
		rtsup.WithLogger(e.log),
		rtsup.WithCancelOnError(false),
	)
	e.sup.Go("dispatch.tick", func(c context.Context) error {
		ticker := time.NewTicker(e.tick)
		defer ticker.Stop()
		e.log.Info("dispatch loop started", logx.Duration("tick", e.tick))
		for {
			select {
			case <-c.Done():
				e.log.Info("dispatch loop stopped")
				return nil
			case <-ticker.C:
				e.tickOnce(c)
			}
		}
	})
}

// Stop halts ticking. In-flight deliveries are the notify pipeline's concern.
func (e *Engine) Stop(ctx context.Context) {
	e.runMu.Lock()
	sup := e.sup
	e.sup = nil
	e.runMu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		e.log.Warn("dispatch stop error", logx.Err(err))
	}
}

// register parses the record into a trigger and adds it to the active set.
func (e *Engine) register(rec schedule.Schedule) error {
	trig, err := rec.Trigger()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.triggers[rec.ID] = trig
	e.mu.Unlock()
	return nil
}

func (e *Engine) deregister(id int64) {
	e.mu.Lock()
	delete(e.triggers, id)
	delete(e.lastFired, id)
	e.mu.Unlock()
}

func (e *Engine) registered(id int64) (schedule.Trigger, bool) {
	e.mu.Lock()
	trig, ok := e.triggers[id]
	e.mu.Unlock()
	return trig, ok
}

// CreateDaily persists and registers a daily schedule. The chat's current
// timezone is resolved once here and pinned to the record.
func (e *Engine) CreateDaily(ctx context.Context, chatID int64, timeOfDay, template string) (schedule.Schedule, error) {
	return e.create(ctx, schedule.Schedule{
		ChatID:    chatID,
		Kind:      schedule.KindDaily,
		TimeOfDay: timeOfDay,
		Content:   template,
	})
}

// CreateCountdown persists and registers a countdown to endDate.
func (e *Engine) CreateCountdown(ctx context.Context, chatID int64, timeOfDay, endDate, title string) (schedule.Schedule, error) {
	return e.create(ctx, schedule.Schedule{
		ChatID:    chatID,
		Kind:      schedule.KindCountdown,
		TimeOfDay: timeOfDay,
		EndDate:   endDate,
		Content:   title,
	})
}

// CreateRepeating persists and registers a repeating schedule until endDate.
func (e *Engine) CreateRepeating(ctx context.Context, chatID int64, timeOfDay, endDate, template string) (schedule.Schedule, error) {
	return e.create(ctx, schedule.Schedule{
		ChatID:    chatID,
		Kind:      schedule.KindRepeating,
		TimeOfDay: timeOfDay,
		EndDate:   endDate,
		Content:   template,
	})
}

func (e *Engine) create(ctx context.Context, rec schedule.Schedule) (schedule.Schedule, error) {
	tz, err := e.store.ChatTimezone(ctx, rec.ChatID)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("resolve timezone: %w", err)
	}
	rec.Timezone = tz

	// Normalize before validation so the stored form is canonical.
	if h, m, err := schedule.ParseTimeOfDay(rec.TimeOfDay); err == nil {
		rec.TimeOfDay = schedule.FormatTimeOfDay(h, m)
	}
	if err := rec.Validate(); err != nil {
		return schedule.Schedule{}, err
	}

	// Persist first; only a persisted record may be registered.
	if _, err := e.store.CreateSchedule(ctx, &rec); err != nil {
		return schedule.Schedule{}, fmt.Errorf("persist schedule: %w", err)
	}
	if err := e.register(rec); err != nil {
		// Validate() above makes this unreachable; fail loudly if it isn't.
		return schedule.Schedule{}, err
	}

	e.log.Info("schedule created",
		logx.Int64("id", rec.ID), logx.Int64("chat_id", rec.ChatID),
		logx.String("kind", string(rec.Kind)), logx.String("at", rec.TimeOfDay),
		logx.String("tz", rec.Timezone))
	return rec, nil
}

// Remove deregisters and deletes a schedule. The chat scope must match the
// record's owner; a foreign or unknown id reports ErrNotFound. Removing an
// already-removed id is a safe not-found, never a failure.
func (e *Engine) Remove(ctx context.Context, id, chatID int64) error {
	rec, err := e.store.GetSchedule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if rec.ChatID != chatID {
		return ErrNotFound
	}

	// Deregister first so no tick fires between delete and deregister.
	e.deregister(id)
	ok, err := e.store.DeleteSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	e.log.Info("schedule removed", logx.Int64("id", id), logx.Int64("chat_id", chatID))
	return nil
}

// Item is one row of a chat's schedule listing.
type Item struct {
	ID        int64
	Kind      schedule.Kind
	TimeOfDay string
	EndDate   string // empty for daily
	Timezone  string
	Preview   string
}

const previewRunes = 30

// List returns the chat's schedules, including any rows that failed to
// register (so operators can see and remove broken records).
func (e *Engine) List(ctx context.Context, chatID int64) ([]Item, error) {
	recs, err := e.store.ListChatSchedules(ctx, chatID)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, Item{
			ID:        rec.ID,
			Kind:      rec.Kind,
			TimeOfDay: rec.TimeOfDay,
			EndDate:   rec.EndDate,
			Timezone:  rec.Timezone,
			Preview:   preview(rec.Content),
		})
	}
	return items, nil
}

func preview(s string) string {
	rs := []rune(s)
	if len(rs) <= previewRunes {
		return s
	}
	return string(rs[:previewRunes]) + "…"
}
