package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"parley/playback"
	"parley/practice"
	"parley/visual"
)

// TUI message types
type stateMsg struct{ Snap practice.Snapshot }
type frameMsg struct{ Frame visual.Frame }
type countdownMsg struct{ Remaining int }
type opErrMsg struct{ Err error }
type playbackMsg struct {
	Playing bool
	Err     error
}

// sender is the part of *tea.Program the sink needs.
type sender interface {
	Send(msg tea.Msg)
}

// teaSink forwards machine events to the TUI and plays the cue tones that
// frame a recording.
type teaSink struct {
	out    sender
	player *playback.Player
}

func (s *teaSink) StateChanged(snap practice.Snapshot) {
	if s.player != nil {
		switch snap.State {
		case practice.Recording:
			s.player.Stop()
			s.player.PlayCue(playback.CueStart)
		case practice.Processing:
			s.player.PlayCue(playback.CueEnd)
		case practice.Error:
			s.player.PlayCue(playback.CueError)
		}
	}
	s.out.Send(stateMsg{Snap: snap})
}

func (s *teaSink) Frame(f visual.Frame) {
	s.out.Send(frameMsg{Frame: f})
}

func (s *teaSink) Tick(remaining int) {
	s.out.Send(countdownMsg{Remaining: remaining})
}

// lateSender buffers nothing and drops messages until the program is set.
// The machine is built before the tea.Program that displays it.
type lateSender struct {
	p *tea.Program
}

func (l *lateSender) Send(msg tea.Msg) {
	if l.p != nil {
		l.p.Send(msg)
	}
}
