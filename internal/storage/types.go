package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var ErrClosed = errors.New("storage: closed")

// Config configures storage.
//
// Driver values:
//   - "file": snapshot + journal under Path (single process only)
//   - "sqlite": SQLite database file at Path
//   - "mysql": server reachable through DSN
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	CompactEvery int           // file only; journal writes between compactions, 0 means 256

	// Now is the store clock used for created_at and the future check.
	// Nil means time.Now.
	Now func() time.Time
}

// Store is the persistence contract for reminders.
type Store interface {
	Create(ctx context.Context, chatID int64, message string, triggerAt time.Time) (reminder.Reminder, error)
	Get(ctx context.Context, id int64) (reminder.Reminder, error)
	List(ctx context.Context, q reminder.Query) ([]reminder.Reminder, error)
	MarkTriggered(ctx context.Context, id int64) (reminder.Reminder, error)
	Cancel(ctx context.Context, id int64) (reminder.Reminder, error)
	Due(ctx context.Context, now time.Time) ([]reminder.Reminder, error)
	Close() error
}
