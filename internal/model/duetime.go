package model

import (
	"strings"
	"time"
)

const DueTimeLayout = "2006-01-02 15:04"

// ParseDueTime reads an admin-entered due time. Empty input means now;
// "2006-01-02 15:04" is read in loc; RFC3339 carries its own offset.
func ParseDueTime(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(DueTimeLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, invalid("due time", "expected \""+DueTimeLayout+"\" or RFC3339, got "+s)
}
