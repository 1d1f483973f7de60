package timeparse

import (
	"errors"
	"testing"
	"time"

	"remindbot/internal/reminder"
)

func TestParseRelative(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"+30m", 30 * time.Minute},
		{"+2h", 2 * time.Hour},
		{"+1d", 24 * time.Hour},
		{"  +2H ", 2 * time.Hour},
		{"+ 15m", 15 * time.Minute},
		{"30 minutes from now", 30 * time.Minute},
		{"1 minute from now", time.Minute},
		{"1 day from now", 24 * time.Hour},
		{"7 days from now", 7 * 24 * time.Hour},
		{"3 Hours From Now", 3 * time.Hour},
		{"+PT30M", 30 * time.Minute},
		{"P1DT2H", 26 * time.Hour},
		{"pt45s", 45 * time.Second},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, now, time.UTC)
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", tc.in, err)
		}
		if want := now.Add(tc.want); !got.Equal(want) {
			t.Fatalf("Parse(%q) = %s, want %s", tc.in, got, want)
		}
	}
}

func TestParseAbsoluteUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := Parse("2025-01-15T09:00:00", now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 15, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got.UTC(), want)
	}
}

func TestParseRejectsNonFuture(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{"+-5m", "+ -5m", "+0m", "2025-03-10T12:00:00", "2024-01-01T00:00:00", "PT0S"} {
		_, err := Parse(in, now, time.UTC)
		var ite *reminder.InvalidTimeError
		if !errors.As(err, &ite) {
			t.Fatalf("Parse(%q) err=%v, want InvalidTimeError", in, err)
		}
		if !errors.Is(err, reminder.ErrInvalidTime) {
			t.Fatalf("Parse(%q) should match ErrInvalidTime", in)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []string{
		"",
		"   ",
		"+30",
		"+30x",
		"+30min",
		"30 m from now",
		"30 weeks from now",
		"14:30",
		"2025-01-15T09:00",
		"2025-01-15 09:00",
		"tomorrow",
		"-5m",
		"P1M",
		"+99999999999999999999m",
		"+9999999999999d",
	}
	for _, in := range cases {
		_, err := Parse(in, now, time.UTC)
		var pe *reminder.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) err=%v, want ParseError", in, err)
		}
		if !errors.Is(err, reminder.ErrParse) {
			t.Fatalf("Parse(%q) should match ErrParse", in)
		}
	}
}

func TestParseNilLocationDefaultsToLocal(t *testing.T) {
	t.Parallel()

	now := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := Parse("2030-06-01T08:00:00", now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2030, 6, 1, 8, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, expr, rest string
		ok             bool
	}{
		{"+30m buy milk", "+30m", "buy milk", true},
		{"+ -5m too late", "+ -5m", "too late", true},
		{"30 minutes from now stretch", "30 minutes from now", "stretch", true},
		{"1 day from now", "1 day from now", "", true},
		{"2025-03-10T18:10:00 Check the oven", "2025-03-10T18:10:00", "Check the oven", true},
		{"PT2H  water   plants", "PT2H", "water   plants", true},
		{"+5m buy:\n- milk\n- eggs\n", "+5m", "buy:\n- milk\n- eggs", true},
		{"1 day from now\n\tcall mom", "1 day from now", "call mom", true},
		{"tomorrow call mom", "", "tomorrow call mom", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		expr, rest, ok := Split(tc.in)
		if expr != tc.expr || rest != tc.rest || ok != tc.ok {
			t.Errorf("Split(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.in, expr, rest, ok, tc.expr, tc.rest, tc.ok)
		}
	}
}
