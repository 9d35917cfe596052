package main

import (
	"testing"

	"parley/visual"
)

func quietFrame() visual.Frame {
	var f visual.Frame
	for i := range f {
		f[i] = visual.MinBar
	}
	return f
}

func loudFrame() visual.Frame {
	var f visual.Frame
	for i := range f {
		f[i] = visual.MaxBar
	}
	return f
}

func feedFrames(m *quietMonitor, f visual.Frame, n int) QuietEvent {
	var last QuietEvent
	for i := 0; i < n; i++ {
		last = m.Frame(f)
	}
	return last
}

func TestQuietWarnAfterWindow(t *testing.T) {
	m := newQuietMonitor()
	for i := 0; i < m.windowSz-1; i++ {
		if ev := m.Frame(quietFrame()); ev != QuietNone {
			t.Fatalf("unexpected event at frame %d: %d", i, ev)
		}
	}
	if ev := m.Frame(quietFrame()); ev != QuietWarn {
		t.Fatalf("expected QuietWarn at frame %d, got %d", m.windowSz, ev)
	}
	if !m.Warned() {
		t.Fatal("Warned() = false after QuietWarn")
	}
}

func TestQuietWarnOnce(t *testing.T) {
	m := newQuietMonitor()
	feedFrames(m, quietFrame(), m.windowSz)
	for i := 0; i < m.windowSz; i++ {
		if ev := m.Frame(quietFrame()); ev != QuietNone {
			t.Fatalf("repeated event %d at frame %d", ev, i)
		}
	}
}

func TestQuietClearsOnVoice(t *testing.T) {
	m := newQuietMonitor()
	feedFrames(m, quietFrame(), m.windowSz)

	for i := 0; i < m.windowSz; i++ {
		if m.Frame(loudFrame()) == QuietClear {
			return
		}
	}
	t.Fatal("expected QuietClear after voice")
}

func TestNoWarnWhileSpeaking(t *testing.T) {
	m := newQuietMonitor()
	for i := 0; i < 3*m.windowSz; i++ {
		f := quietFrame()
		if i%4 == 0 {
			f = loudFrame()
		}
		if ev := m.Frame(f); ev == QuietWarn {
			t.Fatalf("unexpected warning at frame %d", i)
		}
	}
}

func TestQuietReset(t *testing.T) {
	m := newQuietMonitor()
	feedFrames(m, quietFrame(), m.windowSz)
	m.Reset()
	if m.Warned() {
		t.Fatal("Warned() after Reset")
	}
	if ev := feedFrames(m, quietFrame(), m.windowSz-1); ev != QuietNone {
		t.Fatalf("event %d before a full window after Reset", ev)
	}
}

func TestHasVoice(t *testing.T) {
	f := quietFrame()
	if hasVoice(f) {
		t.Fatal("floor frame counted as voice")
	}
	f[3] = visual.MaxBar
	if hasVoice(f) {
		t.Fatal("single bar counted as voice")
	}
	f[7] = voiceBarMinimum
	if !hasVoice(f) {
		t.Fatal("two raised bars not counted as voice")
	}
}
