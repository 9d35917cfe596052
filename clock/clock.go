// Package clock provides the cancellable scheduling primitive used by the
// countdown and the visualization sampler. Production code uses [Real];
// tests drive time by hand with [Fake].
package clock

import "time"

// Timer is a pending callback. Stop reports whether it prevented the
// callback from running.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is backed by the runtime timers.
type Real struct{}

func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
