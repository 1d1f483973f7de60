// Package reminders is the command surface shared by every front-end:
// chat commands and MCP tools both call into Service.
package reminders

import (
	"context"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

type Service struct {
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
	loc   func() *time.Location
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the reference zone for absolute time expressions and
// formatting. loc is read on every call so reloads apply.
func WithLocation(loc func() *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(store storage.Store, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		log:   log,
		bus:   bus,
		now:   time.Now,
		loc:   func() *time.Location { return time.Local },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Location is the reference zone currently in effect.
func (s *Service) Location() *time.Location {
	if loc := s.loc(); loc != nil {
		return loc
	}
	return time.Local
}

// Add parses timeExpr and stores a new pending reminder for chatID.
func (s *Service) Add(ctx context.Context, chatID int64, message, timeExpr string) (reminder.Reminder, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return reminder.Reminder{}, &reminder.ValidationError{Field: "message", Reason: "must not be blank"}
	}
	at, err := timeparse.Parse(timeExpr, s.now(), s.Location())
	if err != nil {
		return reminder.Reminder{}, err
	}
	r, err := s.store.Create(ctx, chatID, message, at)
	if err != nil {
		return reminder.Reminder{}, err
	}
	s.log.Info("reminder created",
		logx.Int64("reminder_id", r.ID),
		logx.Int64("chat_id", r.ChatID),
		logx.Time("trigger_at", r.TriggerAt),
	)
	s.publish(eventbus.TypeReminderCreated, r)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	return s.store.Get(ctx, id)
}

// List is scoped to q.ChatID unless q.AllChats is set.
func (s *Service) List(ctx context.Context, q reminder.Query) ([]reminder.Reminder, error) {
	if q.Status == "" {
		q.Status = reminder.FilterAll
	}
	return s.store.List(ctx, q)
}

// Pending lists every pending reminder across chats in trigger order.
func (s *Service) Pending(ctx context.Context) ([]reminder.Reminder, error) {
	return s.store.List(ctx, reminder.Query{AllChats: true, Status: reminder.FilterPending})
}

// Cancel returns reminder.ErrNotFound for unknown ids and a
// *reminder.StateError when the reminder already fired or was cancelled.
func (s *Service) Cancel(ctx context.Context, id int64) (reminder.Reminder, error) {
	r, err := s.store.Cancel(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	s.log.Info("reminder cancelled", logx.Int64("reminder_id", r.ID), logx.Int64("chat_id", r.ChatID))
	s.publish(eventbus.TypeReminderCancelled, r)
	return r, nil
}

func (s *Service) publish(typ string, r reminder.Reminder) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.ReminderEvent{ID: r.ID, ChatID: r.ChatID}})
}
