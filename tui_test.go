package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"parley/playback"
	"parley/practice"
	"parley/visual"
)

type fakeController struct {
	mu    sync.Mutex
	snap  practice.Snapshot
	calls []string
	err   error
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) SelectLevel(_ context.Context, level string) error {
	return f.record("SelectLevel " + level)
}
func (f *fakeController) Begin(context.Context) error          { return f.record("Begin") }
func (f *fakeController) StartRecording(context.Context) error { return f.record("StartRecording") }
func (f *fakeController) StopRecording() error                 { return f.record("StopRecording") }
func (f *fakeController) CancelRecording() error               { return f.record("CancelRecording") }
func (f *fakeController) Retry(context.Context) error          { return f.record("Retry") }
func (f *fakeController) NextExercise(context.Context) error   { return f.record("NextExercise") }
func (f *fakeController) TryAgain() error                      { return f.record("TryAgain") }
func (f *fakeController) ChangeLevel() error                   { return f.record("ChangeLevel") }
func (f *fakeController) Snapshot() practice.Snapshot          { return f.snap }

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePlayer struct {
	played  []string
	stopped int
}

func (p *fakePlayer) Play(_ context.Context, source string, cb playback.Callbacks) {
	p.played = append(p.played, source)
	if cb.OnStart != nil {
		cb.OnStart()
	}
}

func (p *fakePlayer) Stop() { p.stopped++ }

type sentMsgs struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *sentMsgs) Send(msg tea.Msg) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var sampleContent = &practice.Content{
	Prompt:      "Describe your weekend.",
	Translation: "Décris ton week-end.",
	Targets:     []practice.TargetWord{{Word: "beach"}, {Word: "friends"}},
	Benchmark:   &practice.Benchmark{URL: "https://example.test/bench.wav"},
	MaxDuration: 45,
}

func newTestModel(snap practice.Snapshot) (tuiModel, *fakeController, *fakePlayer, *sentMsgs) {
	ctl := &fakeController{snap: snap}
	player := &fakePlayer{}
	out := &sentMsgs{}
	m := newTUIModel(context.Background(), ctl, player, out, []string{"A1", "A2", "B1"}, "test")
	return m, ctl, player, out
}

// press sends key and runs the command it returns, feeding the result back.
func press(t *testing.T, m tuiModel, key tea.KeyMsg) tuiModel {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(tuiModel)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			next, _ = m.Update(msg)
			m = next.(tuiModel)
		}
	}
	return m
}

func TestLevelSelection(t *testing.T) {
	m, ctl, _, _ := newTestModel(practice.Snapshot{State: practice.SelectingLevel})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, runeKey("j"))
	m = press(t, m, runeKey("j"))
	m = press(t, m, runeKey("k"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	got := ctl.Calls()
	if len(got) != 1 || got[0] != "SelectLevel A2" {
		t.Fatalf("calls = %v, want [SelectLevel A2]", got)
	}
	if !strings.Contains(m.View(), "Choose your level") {
		t.Error("level list not rendered")
	}
}

func TestKeysPerState(t *testing.T) {
	tests := []struct {
		state practice.State
		key   tea.KeyMsg
		want  string
	}{
		{practice.Ready, runeKey("r"), "StartRecording"},
		{practice.Ready, runeKey("l"), "ChangeLevel"},
		{practice.Recording, runeKey("s"), "StopRecording"},
		{practice.Recording, runeKey("c"), "CancelRecording"},
		{practice.Recording, tea.KeyMsg{Type: tea.KeyEsc}, "CancelRecording"},
		{practice.Results, runeKey("n"), "NextExercise"},
		{practice.Results, runeKey("a"), "TryAgain"},
		{practice.Error, runeKey("t"), "Retry"},
		{practice.Error, runeKey("a"), "TryAgain"},
		{practice.Error, runeKey("l"), "ChangeLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.state.String()+"/"+tt.key.String(), func(t *testing.T) {
			m, ctl, _, _ := newTestModel(practice.Snapshot{State: tt.state, Content: sampleContent})
			press(t, m, tt.key)
			got := ctl.Calls()
			if len(got) != 1 || got[0] != tt.want {
				t.Fatalf("calls = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestKeysIgnoredInWrongState(t *testing.T) {
	m, ctl, _, _ := newTestModel(practice.Snapshot{State: practice.Processing, Content: sampleContent})
	for _, k := range []string{"r", "s", "c", "n", "a", "t", "l"} {
		m = press(t, m, runeKey(k))
	}
	if got := ctl.Calls(); len(got) != 0 {
		t.Fatalf("calls during processing = %v", got)
	}
}

func TestQuit(t *testing.T) {
	for _, key := range []tea.KeyMsg{runeKey("q"), {Type: tea.KeyCtrlC}} {
		m, _, _, _ := newTestModel(practice.Snapshot{State: practice.Ready})
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("%s: no command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("%s: command is not tea.Quit", key)
		}
	}
}

func TestOperationErrorShown(t *testing.T) {
	m, ctl, _, _ := newTestModel(practice.Snapshot{State: practice.Ready, Content: sampleContent})
	ctl.err = practice.ErrBusy
	m = press(t, m, runeKey("r"))
	if !errors.Is(m.opErr, practice.ErrBusy) {
		t.Fatalf("opErr = %v", m.opErr)
	}
	if !strings.Contains(m.View(), practice.ErrBusy.Error()) {
		t.Error("operation error not rendered")
	}

	ctl.err = nil
	m = press(t, m, runeKey("x"))
	if m.opErr != nil {
		t.Errorf("opErr not cleared by next key: %v", m.opErr)
	}
}

func TestRecordingView(t *testing.T) {
	m, _, _, _ := newTestModel(practice.Snapshot{State: practice.Ready, Content: sampleContent})
	next, _ := m.Update(stateMsg{Snap: practice.Snapshot{State: practice.Recording, Content: sampleContent, Remaining: 45}})
	m = next.(tuiModel)
	next, _ = m.Update(countdownMsg{Remaining: 42})
	m = next.(tuiModel)

	var loud visual.Frame
	for i := range loud {
		loud[i] = visual.MaxBar
	}
	next, _ = m.Update(frameMsg{Frame: loud})
	m = next.(tuiModel)

	view := m.View()
	if !strings.Contains(view, "REC 0:42") {
		t.Errorf("countdown not rendered:\n%s", view)
	}
	if !strings.Contains(view, "██") {
		t.Errorf("bars not rendered:\n%s", view)
	}
	if !strings.Contains(view, sampleContent.Prompt) {
		t.Error("prompt not rendered")
	}
}

func TestFramesIgnoredOutsideRecording(t *testing.T) {
	m, _, _, _ := newTestModel(practice.Snapshot{State: practice.Processing})
	var f visual.Frame
	f[0] = visual.MaxBar
	next, _ := m.Update(frameMsg{Frame: f})
	if next.(tuiModel).bars != (visual.Frame{}) {
		t.Fatal("frame applied outside Recording")
	}
}

func TestQuietWarningRendered(t *testing.T) {
	m, _, _, _ := newTestModel(practice.Snapshot{State: practice.Recording, Content: sampleContent})
	var silent visual.Frame
	for i := range silent {
		silent[i] = visual.MinBar
	}
	for i := 0; i < m.quiet.windowSz; i++ {
		next, _ := m.Update(frameMsg{Frame: silent})
		m = next.(tuiModel)
	}
	if !strings.Contains(m.View(), "no voice detected") {
		t.Error("quiet warning not rendered")
	}

	next, _ := m.Update(stateMsg{Snap: practice.Snapshot{State: practice.Ready, Content: sampleContent}})
	m = next.(tuiModel)
	next, _ = m.Update(stateMsg{Snap: practice.Snapshot{State: practice.Recording, Content: sampleContent}})
	m = next.(tuiModel)
	if m.quiet.Warned() {
		t.Error("quiet warning carried into a new recording")
	}
}

func TestResultsView(t *testing.T) {
	snap := practice.Snapshot{
		State:   practice.Results,
		Content: sampleContent,
		Result: &practice.Result{
			Score:         72,
			Transcription: "I went to the beach",
			Words:         []practice.WordUsage{{Word: "beach", Used: true}, {Word: "friends"}},
			Feedback:      "Nice pace.",
		},
	}
	m, _, _, _ := newTestModel(snap)
	view := m.View()
	for _, want := range []string{"Score: 72", "I went to the beach", "Nice pace.", "✓ beach", "✗ friends"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestErrorView(t *testing.T) {
	se := practice.NewSessionError(practice.ContentFetchFailed, errors.New("boom"))
	m, _, _, _ := newTestModel(practice.Snapshot{State: practice.Error, Err: se})
	view := m.View()
	if !strings.Contains(view, se.Message) {
		t.Errorf("error message missing:\n%s", view)
	}
	if strings.Contains(view, "try again") {
		t.Error("try again offered without content")
	}
}

func TestBenchmarkPlayback(t *testing.T) {
	m, _, player, out := newTestModel(practice.Snapshot{State: practice.Ready, Content: sampleContent})
	m = press(t, m, runeKey("p"))
	if len(player.played) != 1 || player.played[0] != sampleContent.Benchmark.URL {
		t.Fatalf("played = %v", player.played)
	}
	if len(out.msgs) != 1 {
		t.Fatalf("sent = %v, want one playbackMsg", out.msgs)
	}
	next, _ := m.Update(out.msgs[0])
	m = next.(tuiModel)
	if !m.playing {
		t.Fatal("playing not set after OnStart")
	}

	// Pressing p again stops the example.
	m = press(t, m, runeKey("p"))
	if player.stopped != 1 || len(player.played) != 1 {
		t.Fatalf("stopped = %d played = %v", player.stopped, player.played)
	}

	// Recording stops the example too.
	press(t, m, runeKey("r"))
	if player.stopped != 2 {
		t.Fatalf("stopped = %d after record", player.stopped)
	}
}

func TestPronunciationBeginsOnInit(t *testing.T) {
	m, ctl, _, _ := newTestModel(practice.Snapshot{Variant: practice.Pronunciation, State: practice.Loading})
	runBatch(m.Init())
	if got := ctl.Calls(); len(got) != 1 || got[0] != "Begin" {
		t.Fatalf("calls = %v, want [Begin]", got)
	}
}

func TestPresetLevelOnInit(t *testing.T) {
	m, ctl, _, _ := newTestModel(practice.Snapshot{State: practice.SelectingLevel})
	m.preset = "B1"
	runBatch(m.Init())
	if got := ctl.Calls(); len(got) != 1 || got[0] != "SelectLevel B1" {
		t.Fatalf("calls = %v, want [SelectLevel B1]", got)
	}
}

// runBatch runs every command of a batch, tick timers included.
func runBatch(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		return
	}
	for _, c := range batch {
		if c != nil {
			c()
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	for in, want := range map[int]string{0: "0:00", 5: "0:05", 60: "1:00", 75: "1:15", -3: "0:00"} {
		if got := formatSeconds(in); got != want {
			t.Errorf("formatSeconds(%d) = %q, want %q", in, got, want)
		}
	}
}
