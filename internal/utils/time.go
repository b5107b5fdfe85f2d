package utils

import (
	"time"
)

// DateLayout is the wire format of calendar dates such as departure dates.
const DateLayout = "2006-01-02"

// UnixMillisToTime converts a gateway millisecond timestamp to a time.Time
func UnixMillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
