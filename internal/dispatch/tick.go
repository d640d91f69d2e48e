package dispatch

import (
	"context"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

// tickOnce runs one due-check pass over all active schedules.
//
// The store snapshot is the source of truth for which records exist; the
// trigger index only says which of them are registered. No failure from one
// record's evaluation or delivery may affect any other record in the pass.
func (e *Engine) tickOnce(ctx context.Context) {
	now := e.now()

	recs, err := e.store.ListSchedules(ctx)
	if err != nil {
		// Skip this tick and retry on the next one; never crash the loop.
		e.log.Warn("tick skipped: store unavailable", logx.Err(err))
		return
	}

	for _, rec := range recs {
		trig, ok := e.registered(rec.ID)
		if !ok {
			continue
		}

		if trig.ExpiredAt(now) {
			e.retire(ctx, rec, trig)
			continue
		}
		if !trig.DueAt(now) {
			continue
		}

		// At most one firing per local (date, hour, minute), even when a
		// delayed tick lands in the same minute twice.
		key := trig.FireKey(now)
		e.mu.Lock()
		fired := e.lastFired[rec.ID] == key
		if !fired {
			e.lastFired[rec.ID] = key
		}
		e.mu.Unlock()
		if fired {
			continue
		}

		text := renderMessage(rec, trig, now)
		if err := e.out.Enqueue(rec.ChatID, text); err != nil {
			e.log.Warn("delivery enqueue failed",
				logx.Int64("id", rec.ID), logx.Int64("chat_id", rec.ChatID), logx.Err(err))
		}
	}
}

// renderMessage produces the outgoing text for a due schedule at the given
// instant, in the record's own timezone.
func renderMessage(rec schedule.Schedule, trig schedule.Trigger, now time.Time) string {
	local := now.In(trig.Loc)
	if rec.Kind == schedule.KindCountdown {
		return schedule.CountdownText(rec.Content, trig.End, trig.DaysUntil(now))
	}
	return schedule.Render(rec.Content, local)
}

// retire removes an expired schedule from the loop and the store. A
// countdown announces its conclusion first; repeating schedules go silently.
func (e *Engine) retire(ctx context.Context, rec schedule.Schedule, trig schedule.Trigger) {
	if rec.Kind == schedule.KindCountdown {
		if err := e.out.Enqueue(rec.ChatID, schedule.CountdownEnded(rec.Content)); err != nil {
			e.log.Warn("terminal notification enqueue failed",
				logx.Int64("id", rec.ID), logx.Err(err))
		}
	}

	// Deregister regardless of the delete outcome so one bad row can't
	// fire again this session; the store delete is retried implicitly on
	// the next restart if it failed here.
	e.deregister(rec.ID)
	if _, err := e.store.DeleteSchedule(ctx, rec.ID); err != nil {
		e.log.Error("failed to delete expired schedule",
			logx.Int64("id", rec.ID), logx.Err(err))
		return
	}
	e.log.Info("schedule expired and retired",
		logx.Int64("id", rec.ID), logx.Int64("chat_id", rec.ChatID),
		logx.String("kind", string(rec.Kind)))
}
