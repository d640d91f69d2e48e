package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"schedbot/internal/dispatch"
	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

// Scheduler is the command-facing surface of the schedule engine.
type Scheduler interface {
	CreateDaily(ctx context.Context, chatID int64, timeOfDay, template string) (schedule.Schedule, error)
	CreateCountdown(ctx context.Context, chatID int64, timeOfDay, endDate, title string) (schedule.Schedule, error)
	CreateRepeating(ctx context.Context, chatID int64, timeOfDay, endDate, template string) (schedule.Schedule, error)
	Remove(ctx context.Context, id, chatID int64) error
	List(ctx context.Context, chatID int64) ([]dispatch.Item, error)
}

// TimezoneStore holds per-chat timezone preferences.
type TimezoneStore interface {
	ChatTimezone(ctx context.Context, chatID int64) (string, error)
	SetChatTimezone(ctx context.Context, chatID int64, tz string) error
}

const commandTimeout = 5 * time.Second

func (a *Adapter) registerHandlers() {
	a.bot.Handle("/start", a.wrap(a.onHelp, false))
	a.bot.Handle("/help", a.wrap(a.onHelp, false))
	a.bot.Handle("/status", a.wrap(a.onStatus, false))
	a.bot.Handle("/setschedule", a.wrap(a.onSetSchedule, true))
	a.bot.Handle("/setcountdown", a.wrap(a.onSetCountdown, true))
	a.bot.Handle("/setrepeating", a.wrap(a.onSetRepeating, true))
	a.bot.Handle("/removeschedule", a.wrap(a.onRemoveSchedule, true))
	a.bot.Handle("/settimezone", a.wrap(a.onSetTimezone, true))
}

type handler func(ctx context.Context, c tele.Context) error

// wrap provides a bounded context, the admin gate for mutating commands,
// and error logging so a failed handler never kills the poll loop.
func (a *Adapter) wrap(h handler, adminOnly bool) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if adminOnly && !a.isAdmin(c) {
			return c.Send("Only group admins can manage schedules.")
		}
		if err := h(ctx, c); err != nil {
			a.log.Warn("command failed",
				logx.String("command", firstWord(c.Text())),
				logx.Int64("chat_id", c.Chat().ID),
				logx.Err(err))
			return c.Send("Something went wrong, please try again.")
		}
		return nil
	}
}

// isAdmin reports whether the sender may manage schedules in this chat.
// Private chats are always allowed; in groups the sender must be an
// administrator or the owner.
func (a *Adapter) isAdmin(c tele.Context) bool {
	chat := c.Chat()
	if chat == nil || c.Sender() == nil {
		return false
	}
	if chat.Type == tele.ChatPrivate {
		return true
	}
	member, err := a.bot.ChatMemberOf(chat, c.Sender())
	if err != nil {
		a.log.Warn("admin lookup failed", logx.Int64("chat_id", chat.ID), logx.Err(err))
		return false
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator
}

func (a *Adapter) onHelp(_ context.Context, c tele.Context) error {
	return c.Send(helpText)
}

func (a *Adapter) onSetSchedule(ctx context.Context, c tele.Context) error {
	timeStr, rest, ok := splitArg(c.Message().Payload)
	if !ok || rest == "" {
		return c.Send(usageSetSchedule)
	}
	rec, err := a.sched.CreateDaily(ctx, c.Chat().ID, timeStr, rest)
	if replied, err := a.replyInvalid(c, err); replied || err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Daily message #%d scheduled for %s (%s).", rec.ID, rec.TimeOfDay, rec.Timezone))
}

func (a *Adapter) onSetCountdown(ctx context.Context, c tele.Context) error {
	timeStr, rest, ok := splitArg(c.Message().Payload)
	if !ok {
		return c.Send(usageSetCountdown)
	}
	dateStr, title, ok := splitArg(rest)
	if !ok || title == "" {
		return c.Send(usageSetCountdown)
	}
	rec, err := a.sched.CreateCountdown(ctx, c.Chat().ID, timeStr, dateStr, title)
	if replied, err := a.replyInvalid(c, err); replied || err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Countdown #%d to %s scheduled daily at %s (%s).", rec.ID, rec.EndDate, rec.TimeOfDay, rec.Timezone))
}

func (a *Adapter) onSetRepeating(ctx context.Context, c tele.Context) error {
	timeStr, rest, ok := splitArg(c.Message().Payload)
	if !ok {
		return c.Send(usageSetRepeating)
	}
	dateStr, msg, ok := splitArg(rest)
	if !ok || msg == "" {
		return c.Send(usageSetRepeating)
	}
	rec, err := a.sched.CreateRepeating(ctx, c.Chat().ID, timeStr, dateStr, msg)
	if replied, err := a.replyInvalid(c, err); replied || err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Repeating message #%d scheduled daily at %s until %s (%s).", rec.ID, rec.TimeOfDay, rec.EndDate, rec.Timezone))
}

func (a *Adapter) onStatus(ctx context.Context, c tele.Context) error {
	items, err := a.sched.List(ctx, c.Chat().ID)
	if err != nil {
		return err
	}
	return c.Send(formatStatus(items))
}

func (a *Adapter) onRemoveSchedule(ctx context.Context, c tele.Context) error {
	arg := strings.TrimSpace(c.Message().Payload)
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return c.Send(usageRemoveSchedule)
	}
	switch err := a.sched.Remove(ctx, id, c.Chat().ID); {
	case errors.Is(err, dispatch.ErrNotFound):
		return c.Send(fmt.Sprintf("No schedule #%d in this chat.", id))
	case err != nil:
		return err
	}
	return c.Send(fmt.Sprintf("Schedule #%d removed.", id))
}

func (a *Adapter) onSetTimezone(ctx context.Context, c tele.Context) error {
	name := strings.TrimSpace(c.Message().Payload)
	if name == "" {
		return c.Send(usageSetTimezone)
	}
	if _, err := time.LoadLocation(name); err != nil {
		return c.Send(fmt.Sprintf("Unknown timezone %q. Use an IANA name like Europe/Berlin.", name))
	}
	if err := a.tz.SetChatTimezone(ctx, c.Chat().ID, name); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Timezone set to %s. New schedules will use it.", name))
}

// replyInvalid turns a validation error into a user-facing reply. It
// returns (true, sendErr) when the error was handled that way.
func (a *Adapter) replyInvalid(c tele.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var verr *schedule.ValidationError
	if errors.As(err, &verr) {
		return true, c.Send("Invalid " + verr.Field + ": " + verr.Reason + ".")
	}
	return false, err
}

// splitArg cuts the first whitespace-separated token off the payload.
func splitArg(payload string) (first, rest string, ok bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", "", false
	}
	if i := strings.IndexAny(payload, " \t\n"); i >= 0 {
		return payload[:i], strings.TrimSpace(payload[i:]), true
	}
	return payload, "", true
}

func firstWord(s string) string {
	w, _, _ := splitArg(s)
	return w
}

func formatStatus(items []dispatch.Item) string {
	if len(items) == 0 {
		return "No schedules in this chat."
	}
	var b strings.Builder
	b.WriteString("Schedules in this chat:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "#%d %s at %s", it.ID, it.Kind, it.TimeOfDay)
		if it.EndDate != "" {
			fmt.Fprintf(&b, " until %s", it.EndDate)
		}
		fmt.Fprintf(&b, " (%s): %s\n", it.Timezone, it.Preview)
	}
	return strings.TrimRight(b.String(), "\n")
}
