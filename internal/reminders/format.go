package reminders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
)

const displayLayout = "2006-01-02 15:04:05"

func StatusMarker(st reminder.Status) string {
	switch st {
	case reminder.StatusPending:
		return "⏳"
	case reminder.StatusTriggered:
		return "✅"
	case reminder.StatusCancelled:
		return "❌"
	default:
		return "•"
	}
}

// FormatTime renders t in loc with the zone abbreviation.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return lt.Format(displayLayout) + " " + lt.Format("MST")
}

// FormatCreated is the confirmation line after Add.
func FormatCreated(r reminder.Reminder, loc *time.Location) string {
	return fmt.Sprintf("Reminder #%d set for %s: %s", r.ID, FormatTime(r.TriggerAt, loc), r.Message)
}

// FormatLine is one list entry.
func FormatLine(r reminder.Reminder, loc *time.Location, withChat bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d [%s] %s", StatusMarker(r.Status), r.ID, r.Status, FormatTime(r.TriggerAt, loc))
	if withChat {
		fmt.Fprintf(&b, " (chat %d)", r.ChatID)
	}
	b.WriteString(": ")
	b.WriteString(r.Message)
	return b.String()
}

// FormatList renders a titled list; empty input yields a single notice line.
func FormatList(title string, items []reminder.Reminder, loc *time.Location, withChat bool) string {
	if len(items) == 0 {
		return "No reminders found."
	}
	var b strings.Builder
	b.WriteString(title)
	for _, r := range items {
		b.WriteString("\n")
		b.WriteString(FormatLine(r, loc, withChat))
	}
	return b.String()
}

// FormatCancelError explains why a cancel did not happen.
func FormatCancelError(id int64, err error) string {
	var se *reminder.StateError
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		return fmt.Sprintf("Reminder #%d not found.", id)
	case errors.As(err, &se) && se.Reminder.Status == reminder.StatusCancelled:
		return fmt.Sprintf("Reminder #%d is already cancelled.", id)
	case errors.As(err, &se) && se.Reminder.Status == reminder.StatusTriggered:
		return fmt.Sprintf("Reminder #%d has already been triggered.", id)
	default:
		return ""
	}
}

// UserMessage maps domain errors to text safe to show a user. ok is false
// for unexpected errors, which callers report with a correlation id.
func UserMessage(err error) (msg string, ok bool) {
	var (
		pe *reminder.ParseError
		ie *reminder.InvalidTimeError
		ve *reminder.ValidationError
	)
	switch {
	case errors.As(err, &pe):
		return "Could not understand the time: " + pe.Reason + ".", true
	case errors.As(err, &ie):
		return "That time is not in the future.", true
	case errors.As(err, &ve) && errors.Is(ve, reminder.ErrInvalidTime):
		return "That time is not in the future.", true
	case errors.As(err, &ve):
		return ve.Error() + ".", true
	case errors.Is(err, reminder.ErrNotFound):
		return "Reminder not found.", true
	default:
		return "", false
	}
}
