package utils

import (
	"time"
)

// TimeLayout is the fixed-width layout used for every time stored as a string.
// All values are UTC, so lexical order equals time order.
const TimeLayout = "2006-01-02 15:04:05.000"

// DateLayout is used in conflict copy labels.
const DateLayout = "2006-01-02"

// Epoch is the "never" value.
var Epoch = time.Unix(0, 0).UTC()

// NormTime drops the location and anything finer than a millisecond.
func NormTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func FormatTime(t time.Time) string {
	return NormTime(t).Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// ParseTimeOr parses s, returning def when s is empty or malformed.
func ParseTimeOr(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	t, err := ParseTime(s)
	if err != nil {
		return def
	}
	return t
}

func IsEpoch(t time.Time) bool {
	return t.Equal(Epoch)
}
