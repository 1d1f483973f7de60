// Package reminder holds the reminder record, its lifecycle states and the
// error taxonomy shared by the store, the scheduler and the front-ends.
package reminder

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTriggered, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusTriggered || s == StatusCancelled }

// Reminder is one future-dated notification for a chat.
// Times are UTC with millisecond precision.
type Reminder struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Message   string    `json:"message"`
	TriggerAt time.Time `json:"trigger_at"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
}

// Due reports whether a pending reminder should fire at now.
func (r Reminder) Due(now time.Time) bool {
	return r.Status == StatusPending && !r.TriggerAt.After(now)
}

type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterPending   StatusFilter = StatusFilter(StatusPending)
	FilterTriggered StatusFilter = StatusFilter(StatusTriggered)
	FilterCancelled StatusFilter = StatusFilter(StatusCancelled)
)

// ParseStatusFilter is case-insensitive; empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "pending":
		return FilterPending, nil
	case "triggered":
		return FilterTriggered, nil
	case "cancelled", "canceled":
		return FilterCancelled, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status filter %q", s)}
	}
}

// Match reports whether st passes the filter. The zero filter matches all.
func (f StatusFilter) Match(st Status) bool {
	if f == "" || f == FilterAll {
		return true
	}
	return Status(f) == st
}

// Query scopes a list call to one chat unless AllChats is set.
type Query struct {
	ChatID   int64
	AllChats bool
	Status   StatusFilter
}

func (q Query) Match(r Reminder) bool {
	if !q.AllChats && r.ChatID != q.ChatID {
		return false
	}
	return q.Status.Match(r.Status)
}

// Normalize truncates to millisecond precision in UTC, the persisted form.
func Normalize(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
