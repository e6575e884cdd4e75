// Package clock abstracts one-shot timers so scheduling logic can be
// driven by a fake clock in tests instead of wall-clock sleeps.
package clock

import "time"

// Timer is a single-shot timer handle. Stop reports whether the timer was
// stopped before its callback ran.
type Timer interface {
	Stop() bool
}

// Clock provides the current time and single-shot callbacks.
//
// AfterFunc fires f no earlier than d from now, in its own goroutine
// (matching time.AfterFunc semantics).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) Stop() bool { return s.t.Stop() }
