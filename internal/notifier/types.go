package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/reminder"
)

const DefaultDeliveryTimeout = 10 * time.Second

var (
	ErrQueueFull = errors.New("notifier: queue full")
	ErrStopped   = errors.New("notifier: stopped")
)

// Deliverer sends one reminder message to a chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, message string) error
}

// DeliverFunc adapts a function to Deliverer.
type DeliverFunc func(ctx context.Context, chatID int64, message string) error

func (f DeliverFunc) Deliver(ctx context.Context, chatID int64, message string) error {
	return f(ctx, chatID, message)
}

// Config controls the delivery pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	DeliveryTimeout time.Duration
	HistorySize     int
}

// DeliveryError wraps a Deliverer failure for one reminder.
type DeliveryError struct {
	ReminderID int64
	ChatID     int64
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reminder %d to chat %d: %v", e.ReminderID, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == reminder.ErrDelivery }

type HistoryItem struct {
	At         time.Time
	ReminderID int64
	ChatID     int64
	OK         bool
	Error      string
	Took       time.Duration
}

// Stats are cumulative counters since process start.
type Stats struct {
	Queued    uint64
	Delivered uint64
	Failed    uint64
	Dropped   uint64
	QueueLen  int
	QueueCap  int
}
