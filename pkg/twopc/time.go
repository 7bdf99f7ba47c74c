package twopc

import "time"

// Time is an opaque, monotonic-ish instant. Implementations must support
// addition of a duration and a total order via Before/After.
type Time[T any] interface {
	Add(d time.Duration) T
	Before(other T) bool
	After(other T) bool
}

// TimeSource yields the current Time. The engine never calls time.Now
// directly; every reading flows in through a TimeSource so that Event
// outputs stay deterministic for fixed inputs.
type TimeSource[T any] interface {
	Now() T
}

// WallClock is the SystemTime collaborator: a Time implementation backed
// by time.Time. SystemTimeSource is the TimeSource that reads it from the
// real clock.
type WallClock struct {
	time.Time
}

// Add returns the WallClock advanced by d.
func (w WallClock) Add(d time.Duration) WallClock {
	return WallClock{w.Time.Add(d)}
}

// Before reports whether w is strictly earlier than other.
func (w WallClock) Before(other WallClock) bool {
	return w.Time.Before(other.Time)
}

// After reports whether w is strictly later than other.
func (w WallClock) After(other WallClock) bool {
	return w.Time.After(other.Time)
}

// SystemTimeSource is a TimeSource backed by time.Now.
type SystemTimeSource struct{}

// Now returns the current wall-clock time.
func (SystemTimeSource) Now() WallClock {
	return WallClock{time.Now()}
}
