package telegram

const helpText = `I post scheduled messages to this chat.

/setschedule HH:MM message — send a message every day
/setcountdown HH:MM YYYY-MM-DD title — daily countdown until a date
/setrepeating HH:MM YYYY-MM-DD message — daily message until a date
/status — list schedules in this chat
/removeschedule ID — remove a schedule
/settimezone Area/City — timezone for new schedules (IANA name)

Messages may use {date}, {time}, {day}, {month} and {year} placeholders.`

const (
	usageSetSchedule    = "Usage: /setschedule HH:MM message"
	usageSetCountdown   = "Usage: /setcountdown HH:MM YYYY-MM-DD title"
	usageSetRepeating   = "Usage: /setrepeating HH:MM YYYY-MM-DD message"
	usageRemoveSchedule = "Usage: /removeschedule ID"
	usageSetTimezone    = "Usage: /settimezone Area/City (e.g. Europe/Berlin)"
)
