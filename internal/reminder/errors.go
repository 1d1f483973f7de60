package reminder

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrParse        = errors.New("reminder: unparseable time expression")
	ErrInvalidTime  = errors.New("reminder: trigger time is not in the future")
	ErrNotFound     = errors.New("reminder: not found")
	ErrInvalidState = errors.New("reminder: invalid state transition")
	ErrValidation   = errors.New("reminder: validation failed")
	ErrDelivery     = errors.New("reminder: delivery failed")
)

// ParseError reports a time expression that matches no supported form.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot parse time %q", e.Expr)
	}
	return fmt.Sprintf("cannot parse time %q: %s", e.Expr, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// InvalidTimeError reports a parsed time that is not strictly after now.
type InvalidTimeError struct {
	At  time.Time
	Now time.Time
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("trigger time %s is not after %s",
		e.At.UTC().Format(time.RFC3339), e.Now.UTC().Format(time.RFC3339))
}

func (e *InvalidTimeError) Is(target error) bool { return target == ErrInvalidTime }

// ValidationError rejects input before anything is persisted.
// Err, when set, is a more specific cause (for example ErrInvalidTime).
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reminder: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// StateError is returned when a transition finds the reminder no longer
// pending. Reminder carries the current record.
type StateError struct {
	Op       string
	Reminder Reminder
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s reminder %d: already %s", e.Op, e.Reminder.ID, e.Reminder.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }
