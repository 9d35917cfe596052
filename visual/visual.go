// Package visual turns the live input spectrum into a small set of bar
// heights for on-screen feedback.
package visual

import (
	"sync"
	"time"

	"parley/clock"
)

const (
	BarCount        = 12
	MinBar          = 10
	MaxBar          = 60
	DefaultInterval = 50 * time.Millisecond
)

// Frame holds one tick's bar heights, each within [MinBar, MaxBar].
type Frame [BarCount]int

// Source returns the byte-scaled frequency distribution of the live input.
type Source interface {
	FrequencyData(dst []uint8) []uint8
}

// Sampler publishes a Frame on every tick of its clock.
type Sampler struct {
	clk      clock.Clock
	interval time.Duration
}

func NewSampler(clk clock.Clock, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{clk: clk, interval: interval}
}

// Handle controls one running sampler.
type Handle struct {
	s       *Sampler
	source  Source
	publish func(Frame)

	mu      sync.Mutex
	stopped bool
	pending clock.Timer
	bins    []uint8
	frames  int
}

// Start schedules sampling of source. publish is called from the clock's
// goroutine and must not block for long.
func (s *Sampler) Start(source Source, publish func(Frame)) *Handle {
	h := &Handle{s: s, source: source, publish: publish}
	h.mu.Lock()
	h.pending = s.clk.AfterFunc(s.interval, h.tick)
	h.mu.Unlock()
	return h
}

// publish runs under h.mu so Stop cannot return while a frame is in flight.
func (h *Handle) tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.bins = h.source.FrequencyData(h.bins)
	frame := Sample(h.bins)
	h.frames++
	if h.publish != nil {
		h.publish(frame)
	}
	h.pending = h.s.clk.AfterFunc(h.s.interval, h.tick)
}

// Stop cancels the sampler. No frame is published after Stop returns.
// Calling Stop from inside publish deadlocks.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.pending != nil {
		h.pending.Stop()
		h.pending = nil
	}
}

// Frames returns how many frames were published.
func (h *Handle) Frames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

// Sample picks BarCount evenly spaced bins and scales them into the bar range.
// An empty spectrum yields a frame of MinBar.
func Sample(bins []uint8) Frame {
	var f Frame
	n := len(bins)
	for i := range f {
		if n == 0 {
			f[i] = MinBar
			continue
		}
		idx := i * n / BarCount
		f[i] = Scale(bins[idx])
	}
	return f
}

// Scale maps v in [0,255] linearly onto [MinBar, MaxBar].
func Scale(v uint8) int {
	h := MinBar + int(v)*(MaxBar-MinBar)/255
	return min(max(h, MinBar), MaxBar)
}
