package types

import "time"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// NormalizeInstant converts t to UTC and drops the monotonic clock reading so
// that values survive serialization unchanged.
func NormalizeInstant(t time.Time) time.Time {
	return t.UTC().Round(0)
}
