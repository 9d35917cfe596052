package main

import (
	"time"

	"parley/visual"
)

const (
	frameInterval    = visual.DefaultInterval
	quietWarnAfter   = 3 * time.Second
	voiceMinRatio    = 0.10
	voiceClearRatio  = 0.25 // higher threshold to clear warning (hysteresis)
	voiceBarMinimum  = visual.MinBar + 8
	voiceBarsPerTick = 2
)

type QuietEvent int

const (
	QuietNone  QuietEvent = iota
	QuietWarn             // no voice detected
	QuietClear            // voice resumed after warning
)

// quietMonitor watches visualization frames during a recording and reports
// when the speaker has gone quiet for too long.
type quietMonitor struct {
	windowSz int

	ticks  int
	window []bool
	warned bool
}

func newQuietMonitor() *quietMonitor {
	windowSz := int(quietWarnAfter / frameInterval)
	return &quietMonitor{
		windowSz: windowSz,
		window:   make([]bool, windowSz),
	}
}

// hasVoice reports whether enough bars rise clearly above the floor.
func hasVoice(f visual.Frame) bool {
	n := 0
	for _, v := range f {
		if v >= voiceBarMinimum {
			n++
		}
	}
	return n >= voiceBarsPerTick
}

func (m *quietMonitor) ratio() float64 {
	n := m.windowSz
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *quietMonitor) Frame(f visual.Frame) QuietEvent {
	m.window[m.ticks%m.windowSz] = hasVoice(f)
	m.ticks++

	r := m.ratio()
	if m.ticks >= m.windowSz && r < voiceMinRatio && !m.warned {
		m.warned = true
		return QuietWarn
	}
	if m.warned && r >= voiceClearRatio {
		m.warned = false
		return QuietClear
	}
	return QuietNone
}

func (m *quietMonitor) Warned() bool { return m.warned }

func (m *quietMonitor) Reset() {
	m.ticks = 0
	m.warned = false
	clear(m.window)
}
