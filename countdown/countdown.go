// Package countdown bounds a recording window with one-second ticks.
package countdown

import (
	"sync"
	"time"

	"parley/clock"
)

const tickInterval = time.Second

type state int

const (
	running state = iota
	expired
	cancelled
)

// Timer counts down whole seconds. onTick receives the remaining seconds
// after every tick; onExpire runs exactly once when the count reaches zero,
// unless Cancel claimed the timer first.
type Timer struct {
	clk      clock.Clock
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	state     state
	remaining int
	pending   clock.Timer
}

// Start begins counting down totalSeconds. Values below one are treated as one.
func Start(clk clock.Clock, totalSeconds int, onTick func(remaining int), onExpire func()) *Timer {
	if totalSeconds < 1 {
		totalSeconds = 1
	}
	t := &Timer{
		clk:       clk,
		onTick:    onTick,
		onExpire:  onExpire,
		remaining: totalSeconds,
	}
	t.mu.Lock()
	t.pending = clk.AfterFunc(tickInterval, t.tick)
	t.mu.Unlock()
	return t
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.state != running {
		t.mu.Unlock()
		return
	}
	t.remaining--
	remaining := t.remaining
	fire := remaining <= 0
	if fire {
		t.state = expired
		t.pending = nil
	} else {
		t.pending = t.clk.AfterFunc(tickInterval, t.tick)
	}
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(remaining)
	}
	if fire && t.onExpire != nil {
		t.onExpire()
	}
}

// Cancel stops the countdown. It returns true when the timer was still
// running, in which case onExpire will never be called. It returns false if
// the timer had already expired or was cancelled before.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != running {
		return false
	}
	t.state = cancelled
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	return true
}

// Remaining returns the seconds left on the countdown.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether the countdown is still ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == running
}
