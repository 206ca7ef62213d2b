package util

import (
	"strconv"
	"time"
)

// ParseTime accepts RFC3339, RFC3339Nano, a plain date (YYYY-MM-DD, UTC) and unix seconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseUpperBound is ParseTime for the end of a range: a plain date
// covers the whole day.
func ParseUpperBound(s string) (time.Time, bool) {
	t, ok := ParseTime(s)
	if !ok {
		return t, false
	}
	if len(s) == len(time.DateOnly) {
		return EndOfDay(t), true
	}
	return t, true
}

// EndOfDay moves a date-only bound to the last instant of that day so "to=2025-01-31" is inclusive.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
