// Package timeparse normalizes the timestamp formats seen on backend
// payloads into epoch milliseconds UTC. Parsing never fails loudly: inputs
// that cannot be understood map to the Invalid sentinel and are filtered
// out downstream.
package timeparse

import (
	"math"
	"strings"
	"time"
)

// Invalid marks a timestamp that could not be parsed.
const Invalid int64 = math.MinInt64

// IsValid reports whether ms holds a parsed instant rather than the
// sentinel.
func IsValid(ms int64) bool {
	return ms != Invalid
}

// ParseInstant parses a timestamp string into epoch milliseconds. Three
// attempts, in order:
//
//  1. the string as-is (RFC 3339, with or without fractional seconds, or a
//     bare calendar date)
//  2. the first space replaced with 'T', for "2006-01-02 15:04:05" style
//     payloads
//  3. a UTC zone suffix appended, for zone-less local-looking strings
//
// Anything still unparseable returns Invalid.
func ParseInstant(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return Invalid
	}
	if t, ok := parseNative(s); ok {
		return t.UnixMilli()
	}
	shifted := strings.Replace(s, " ", "T", 1)
	if shifted != s {
		if t, ok := parseNative(shifted); ok {
			return t.UnixMilli()
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, shifted+"Z"); err == nil {
		return t.UnixMilli()
	}
	return Invalid
}

func parseNative(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// FromUnix converts a numeric epoch into milliseconds, treating large
// magnitudes as already-millisecond values and the rest as seconds.
func FromUnix(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Invalid
	}
	if math.Abs(v) >= 1e11 {
		return int64(v)
	}
	return int64(v * 1000)
}

// DayKey formats the UTC calendar day an instant falls on, used as the
// grouping key when resampling to daily bars.
func DayKey(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
