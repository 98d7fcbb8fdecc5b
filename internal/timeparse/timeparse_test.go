package timeparse

import (
	"testing"
	"time"
)

func TestParseInstant(t *testing.T) {
	ref := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC).UnixMilli()

	cases := []struct {
		name string
		in   string
		want int64
	}{
		{"rfc3339 utc", "2024-01-02T15:04:05Z", ref},
		{"rfc3339 fractional", "2024-01-02T15:04:05.250Z", ref + 250},
		{"rfc3339 offset", "2024-01-02T16:04:05+01:00", ref},
		{"space separated with zone", "2024-01-02 15:04:05Z", ref},
		{"space separated zoneless", "2024-01-02 15:04:05", ref},
		{"iso zoneless", "2024-01-02T15:04:05", ref},
		{"zoneless fractional", "2024-01-02T15:04:05.5", ref + 500},
		{"date only", "2024-01-02", ref - (15*3600+4*60+5)*1000},
		{"padded", "  2024-01-02T15:04:05Z  ", ref},
	}
	for _, c := range cases {
		if got := ParseInstant(c.in); got != c.want {
			t.Errorf("%s: ParseInstant(%q) = %d, want %d", c.name, c.in, got, c.want)
		}
	}
}

func TestParseInstantInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "not a time", "2024-13-45T99:99:99Z", "Jan 2 2024"} {
		got := ParseInstant(in)
		if got != Invalid {
			t.Errorf("ParseInstant(%q) = %d, want Invalid", in, got)
		}
		if IsValid(got) {
			t.Errorf("IsValid(ParseInstant(%q)) = true, want false", in)
		}
	}
}

func TestFromUnix(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want int64
	}{
		{"seconds", 1704207845, 1704207845000},
		{"millis", 1704207845123, 1704207845123},
		{"zero", 0, 0},
	}
	for _, c := range cases {
		if got := FromUnix(c.in); got != c.want {
			t.Errorf("%s: FromUnix(%v) = %d, want %d", c.name, c.in, got, c.want)
		}
	}
}

func TestDayKey(t *testing.T) {
	ms := time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC).UnixMilli()
	if got := DayKey(ms); got != "2024-03-15" {
		t.Errorf("DayKey = %q, want %q", got, "2024-03-15")
	}
	// A minute later rolls to the next UTC day.
	if got := DayKey(ms + 61_000); got != "2024-03-16" {
		t.Errorf("DayKey next day = %q, want %q", got, "2024-03-16")
	}
}
