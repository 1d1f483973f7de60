package storage

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log = log.With(logx.Component("storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "mysql":
		return openMySQL(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}

// validateCreate checks a new reminder against the store clock. Callers hold
// the store lock or an open transaction.
func validateCreate(message string, triggerAt, now time.Time) error {
	if strings.TrimSpace(message) == "" {
		return &reminder.ValidationError{Field: "message", Reason: "must not be blank"}
	}
	if !triggerAt.After(now) {
		return &reminder.ValidationError{
			Field:  "trigger_at",
			Reason: "must be in the future",
			Err:    &reminder.InvalidTimeError{At: triggerAt, Now: now},
		}
	}
	return nil
}

// sortForQuery applies the list ordering: pending by trigger time, every
// other filter newest first.
func sortForQuery(out []reminder.Reminder, f reminder.StatusFilter) {
	if f == reminder.FilterPending {
		sortByTrigger(out)
		return
	}
	slices.SortFunc(out, func(a, b reminder.Reminder) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}

func sortByTrigger(out []reminder.Reminder) {
	slices.SortFunc(out, func(a, b reminder.Reminder) int {
		if c := a.TriggerAt.Compare(b.TriggerAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
