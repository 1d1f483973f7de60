// Package timeparse turns user-supplied time expressions into absolute
// trigger times.
//
// Accepted forms (case-insensitive, surrounding whitespace ignored):
//
//	+30m, +2h, +1d, +-5m, + -5m     signed offset with unit m|h|d
//	30 minutes from now, 1 day from now
//	+PT30M, P1DT2H                   ISO-8601 duration
//	2025-01-15T09:00:00              absolute wall time in the reference zone
//
// Anything else is rejected rather than guessed.
package timeparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"remindbot/internal/reminder"
)

const absoluteLayout = "2006-01-02T15:04:05"

var (
	reOffset  = regexp.MustCompile(`^\+\s*([+-]?\d+)\s*([a-z]+)$`)
	reFromNow = regexp.MustCompile(`^(\d+)\s+([a-z]+)\s+from\s+now$`)
	reISO     = regexp.MustCompile(`^\+?\s*(p[0-9a-z.,]*)$`)
)

var units = map[string]time.Duration{
	"m":       time.Minute,
	"h":       time.Hour,
	"d":       24 * time.Hour,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
}

// Parse resolves expr against now. loc is the zone for absolute wall times;
// nil means time.Local. The result is strictly after now or an error is
// returned: *reminder.ParseError for malformed input, *reminder.InvalidTimeError
// for a time that is not in the future.
func Parse(expr string, now time.Time, loc *time.Location) (time.Time, error) {
	at, err := resolve(expr, now, loc)
	if err != nil {
		return time.Time{}, err
	}
	if !at.After(now) {
		return time.Time{}, &reminder.InvalidTimeError{At: at, Now: now}
	}
	return at, nil
}

func resolve(expr string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return time.Time{}, &reminder.ParseError{Expr: expr, Reason: "empty expression"}
	}
	if d, ok, err := relative(expr, s); ok {
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	}
	if loc == nil {
		loc = time.Local
	}
	at, err := time.ParseInLocation(absoluteLayout, strings.ToUpper(s), loc)
	if err != nil {
		return time.Time{}, &reminder.ParseError{Expr: expr, Reason: "expected +<n><m|h|d>, \"<n> <unit> from now\", an ISO-8601 duration or YYYY-MM-DDTHH:MM:SS"}
	}
	return at, nil
}

// relative reports ok=true when s has a relative shape, even if it then
// fails to validate.
func relative(expr, s string) (time.Duration, bool, error) {
	if m := reOffset.FindStringSubmatch(s); m != nil {
		d, err := scale(expr, m[1], m[2], true)
		return d, true, err
	}
	if m := reFromNow.FindStringSubmatch(s); m != nil {
		d, err := scale(expr, m[1], m[2], false)
		return d, true, err
	}
	if m := reISO.FindStringSubmatch(s); m != nil {
		d, err := isoOffset(expr, m[1])
		return d, true, err
	}
	return 0, false, nil
}

func scale(expr, num, unit string, short bool) (time.Duration, error) {
	u, ok := units[unit]
	if !ok || (short && len(unit) != 1) || (!short && len(unit) == 1) {
		return 0, &reminder.ParseError{Expr: expr, Reason: "unknown unit " + strconv.Quote(unit)}
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, &reminder.ParseError{Expr: expr, Reason: "number out of range"}
	}
	limit := int64(math.MaxInt64 / u)
	if n > limit || n < -limit {
		return 0, &reminder.ParseError{Expr: expr, Reason: "offset out of range"}
	}
	return time.Duration(n) * u, nil
}

func isoOffset(expr, s string) (time.Duration, error) {
	d, err := duration.Parse(strings.ToUpper(s))
	if err != nil {
		return 0, &reminder.ParseError{Expr: expr, Reason: "invalid ISO-8601 duration"}
	}
	// Calendar units have no fixed length.
	if d.Years != 0 || d.Months != 0 {
		return 0, &reminder.ParseError{Expr: expr, Reason: "years and months are ambiguous; use days"}
	}
	secs := d.Weeks*7*86400 + d.Days*86400 + d.Hours*3600 + d.Minutes*60 + d.Seconds
	if secs < 0 || secs > float64(math.MaxInt64/int64(time.Second)) {
		return 0, &reminder.ParseError{Expr: expr, Reason: "duration out of range"}
	}
	out := time.Duration(secs * float64(time.Second))
	if d.Negative {
		out = -out
	}
	return out, nil
}
