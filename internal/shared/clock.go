package shared

import "time"

// Clock supplies the current time. Aging calculations depend on it so tests
// can pin "now" instead of racing the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always reports the same instant.
type FixedClock struct {
	At time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time {
	return c.At
}
