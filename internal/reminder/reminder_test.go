package reminder

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseStatusFilter(t *testing.T) {
	t.Parallel()

	cases := map[string]StatusFilter{
		"":          FilterAll,
		"ALL":       FilterAll,
		"pending":   FilterPending,
		" Pending ": FilterPending,
		"triggered": FilterTriggered,
		"CANCELLED": FilterCancelled,
		"canceled":  FilterCancelled,
	}
	for in, want := range cases {
		got, err := ParseStatusFilter(in)
		if err != nil {
			t.Fatalf("ParseStatusFilter(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseStatusFilter(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseStatusFilter("done"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestQueryMatch(t *testing.T) {
	t.Parallel()

	r := Reminder{ID: 1, ChatID: 10, Status: StatusTriggered}
	cases := []struct {
		q    Query
		want bool
	}{
		{Query{ChatID: 10}, true},
		{Query{ChatID: 11}, false},
		{Query{ChatID: 11, AllChats: true}, true},
		{Query{ChatID: 10, Status: FilterPending}, false},
		{Query{ChatID: 10, Status: FilterTriggered}, true},
		{Query{AllChats: true, Status: FilterAll}, true},
	}
	for i, tc := range cases {
		if got := tc.q.Match(r); got != tc.want {
			t.Fatalf("case %d: Match = %v, want %v", i, got, tc.want)
		}
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	t.Parallel()

	cur := Reminder{ID: 3, Status: StatusTriggered}
	var err error = fmt.Errorf("cancel: %w", &StateError{Op: "cancel", Reminder: cur})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatal("StateError should match ErrInvalidState")
	}
	var se *StateError
	if !errors.As(err, &se) || se.Reminder.Status != StatusTriggered {
		t.Fatalf("expected StateError carrying current record, got %v", err)
	}

	v := &ValidationError{Field: "trigger_at", Reason: "in the past", Err: &InvalidTimeError{At: time.Unix(0, 0), Now: time.Unix(1, 0)}}
	if !errors.Is(v, ErrValidation) || !errors.Is(v, ErrInvalidTime) {
		t.Fatalf("ValidationError should match ErrValidation and the wrapped ErrInvalidTime")
	}
	if errors.Is(&ParseError{Expr: "x"}, ErrInvalidTime) {
		t.Fatal("ParseError must not match ErrInvalidTime")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	in := time.Date(2025, 1, 1, 10, 0, 0, 123456789, time.FixedZone("X", 3600))
	got := Normalize(in)
	if got.Location() != time.UTC || got.Nanosecond() != 123000000 || !got.Equal(in.Truncate(time.Millisecond)) {
		t.Fatalf("Normalize = %s", got)
	}
}
