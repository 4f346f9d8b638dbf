package service

import "time"

// Clock returns the current instant in the configured calendar location.
type Clock func() time.Time

// SystemClock reads the wall clock and converts it to loc so that day and
// week boundaries are evaluated in loc.
func SystemClock(loc *time.Location) Clock {
	return func() time.Time {
		return time.Now().In(loc)
	}
}

// ClampLimit returns def for non-positive values and max for values above it.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
