package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations/*
var embeddedMigrations embed.FS

const reminderColumns = `id, chat_id, message, trigger_at, created_at, status`

// sqlStore backs both SQL drivers. Queries use "?" placeholders, which
// sqlite and mysql share. Times are stored as unix milliseconds.
type sqlStore struct {
	*sqlx.DB
	log logx.Logger
	now func() time.Time
}

type reminderRow struct {
	ID        int64  `db:"id"`
	ChatID    int64  `db:"chat_id"`
	Message   string `db:"message"`
	TriggerAt int64  `db:"trigger_at"`
	CreatedAt int64  `db:"created_at"`
	Status    string `db:"status"`
}

func (r reminderRow) toReminder() reminder.Reminder {
	return reminder.Reminder{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Message:   r.Message,
		TriggerAt: time.UnixMilli(r.TriggerAt).UTC(),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		Status:    reminder.Status(r.Status),
	}
}

// migrateUp applies the embedded migrations for dialect ("sqlite3" or
// "mysql") from migrations/<dir>.
func migrateUp(db *sqlx.DB, dialect, dir string, log logx.Logger) error {
	migrationSource := &migrate.EmbedFileSystemMigrationSource{FileSystem: embeddedMigrations, Root: "migrations/" + dir}
	n, err := migrate.Exec(db.DB, dialect, migrationSource, migrate.Up)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	if n > 0 {
		log.Info("applied migrations", logx.Int("count", n))
	}
	return nil
}

func rollback(tx *sqlx.Tx, log logx.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Error("failed to rollback transaction", logx.Err(err))
	}
}

func (s *sqlStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *sqlStore) Create(ctx context.Context, chatID int64, message string, triggerAt time.Time) (reminder.Reminder, error) {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: begin: %w", err)
	}
	defer rollback(tx, s.log)

	now := reminder.Normalize(s.now())
	at := reminder.Normalize(triggerAt)
	if err := validateCreate(message, at, now); err != nil {
		return reminder.Reminder{}, err
	}

	const query = `INSERT INTO reminders (chat_id, message, trigger_at, created_at, status) VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, query, chatID, message, at.UnixMilli(), now.UnixMilli(), string(reminder.StatusPending))
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: insert reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: insert reminder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: commit: %w", err)
	}

	return reminder.Reminder{
		ID:        id,
		ChatID:    chatID,
		Message:   message,
		TriggerAt: at,
		CreatedAt: now,
		Status:    reminder.StatusPending,
	}, nil
}

func (s *sqlStore) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	var row reminderRow
	err := s.GetContext(ctx, &row, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reminder.Reminder{}, reminder.ErrNotFound
		}
		return reminder.Reminder{}, fmt.Errorf("storage: get reminder %d: %w", id, err)
	}
	return row.toReminder(), nil
}

func (s *sqlStore) List(ctx context.Context, q reminder.Query) ([]reminder.Reminder, error) {
	var (
		where []string
		args  []any
	)
	if !q.AllChats {
		where = append(where, "chat_id = ?")
		args = append(args, q.ChatID)
	}
	if q.Status != "" && q.Status != reminder.FilterAll {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}

	query := `SELECT ` + reminderColumns + ` FROM reminders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if q.Status == reminder.FilterPending {
		query += ` ORDER BY trigger_at ASC, id ASC`
	} else {
		query += ` ORDER BY id DESC`
	}

	var rows []reminderRow
	if err := s.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("storage: list reminders: %w", err)
	}
	return toReminders(rows), nil
}

func (s *sqlStore) Due(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	const query = `SELECT ` + reminderColumns + ` FROM reminders
	WHERE status = ? AND trigger_at <= ?
	ORDER BY trigger_at ASC, id ASC`

	var rows []reminderRow
	if err := s.SelectContext(ctx, &rows, query, string(reminder.StatusPending), now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("storage: due reminders: %w", err)
	}
	return toReminders(rows), nil
}

func (s *sqlStore) MarkTriggered(ctx context.Context, id int64) (reminder.Reminder, error) {
	return s.transition(ctx, id, "trigger", reminder.StatusTriggered)
}

func (s *sqlStore) Cancel(ctx context.Context, id int64) (reminder.Reminder, error) {
	return s.transition(ctx, id, "cancel", reminder.StatusCancelled)
}

// transition is a conditional UPDATE on status = 'pending'; zero affected
// rows means the record is missing or already terminal.
func (s *sqlStore) transition(ctx context.Context, id int64, op string, to reminder.Status) (reminder.Reminder, error) {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: begin: %w", err)
	}
	defer rollback(tx, s.log)

	const update = `UPDATE reminders SET status = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, update, string(to), id, string(reminder.StatusPending))
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: %s reminder %d: %w", op, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: %s reminder %d: %w", op, id, err)
	}

	var row reminderRow
	if err := tx.GetContext(ctx, &row, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reminder.Reminder{}, reminder.ErrNotFound
		}
		return reminder.Reminder{}, fmt.Errorf("storage: get reminder %d: %w", id, err)
	}
	if affected == 0 {
		return reminder.Reminder{}, &reminder.StateError{Op: op, Reminder: row.toReminder()}
	}
	if err := tx.Commit(); err != nil {
		return reminder.Reminder{}, fmt.Errorf("storage: commit: %w", err)
	}
	return row.toReminder(), nil
}

func toReminders(rows []reminderRow) []reminder.Reminder {
	out := make([]reminder.Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReminder())
	}
	return out
}
