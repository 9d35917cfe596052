package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/playback"
	"parley/practice"
	"parley/visual"
)

type tickMsg time.Time

// controller is the part of *practice.Machine the TUI drives.
type controller interface {
	SelectLevel(ctx context.Context, level string) error
	Begin(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording() error
	CancelRecording() error
	Retry(ctx context.Context) error
	NextExercise(ctx context.Context) error
	TryAgain() error
	ChangeLevel() error
	Snapshot() practice.Snapshot
}

// benchmarkPlayer is the part of *playback.Player the TUI drives.
type benchmarkPlayer interface {
	Play(ctx context.Context, source string, cb playback.Callbacks)
	Stop()
}

type tuiModel struct {
	ctx    context.Context
	ctl    controller
	player benchmarkPlayer
	out    sender

	levels  []string
	cursor  int
	version string
	// preset skips level selection once at startup.
	preset string

	snap      practice.Snapshot
	bars      visual.Frame
	remaining int
	quiet     *quietMonitor
	playing   bool
	opErr     error

	frame         int
	deviceLine    string
	width, height int
}

func newTUIModel(ctx context.Context, ctl controller, player benchmarkPlayer, out sender, levels []string, version string) tuiModel {
	snap := ctl.Snapshot()
	m := tuiModel{
		ctx:     ctx,
		ctl:     ctl,
		player:  player,
		out:     out,
		levels:  levels,
		version: version,
		snap:    snap,
		quiet:   newQuietMonitor(),
	}
	for i, l := range levels {
		if l == snap.Level {
			m.cursor = i
		}
	}
	return m
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	switch {
	case m.snap.Variant == practice.Pronunciation && m.snap.State == practice.Loading:
		return tea.Batch(tuiTick(), m.do(func() error { return m.ctl.Begin(m.ctx) }))
	case m.snap.State == practice.SelectingLevel && m.preset != "":
		level := m.preset
		return tea.Batch(tuiTick(), m.do(func() error { return m.ctl.SelectLevel(m.ctx, level) }))
	}
	return tuiTick()
}

// do runs a machine operation off the UI goroutine and reports its error.
func (m tuiModel) do(op func() error) tea.Cmd {
	return func() tea.Msg {
		return opErrMsg{Err: op()}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case stateMsg:
		if msg.Snap.State == practice.Recording && m.snap.State != practice.Recording {
			m.quiet.Reset()
			m.bars = visual.Frame{}
			m.playing = false
		}
		m.remaining = msg.Snap.Remaining
		m.snap = msg.Snap

	case frameMsg:
		if m.snap.State == practice.Recording {
			m.bars = msg.Frame
			m.quiet.Frame(msg.Frame)
		}

	case countdownMsg:
		m.remaining = msg.Remaining

	case opErrMsg:
		m.opErr = msg.Err

	case playbackMsg:
		m.playing = msg.Playing
		if msg.Err != nil {
			m.opErr = msg.Err
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(key string) (tea.Model, tea.Cmd) {
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}
	m.opErr = nil

	switch m.snap.State {
	case practice.SelectingLevel:
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.levels)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.levels) == 0 {
				return m, nil
			}
			level := m.levels[m.cursor]
			return m, m.do(func() error { return m.ctl.SelectLevel(m.ctx, level) })
		}

	case practice.Ready:
		switch key {
		case "r", "enter":
			if m.player != nil {
				m.player.Stop()
			}
			return m, m.do(func() error { return m.ctl.StartRecording(m.ctx) })
		case "p":
			return m, m.playBenchmark()
		case "l":
			return m, m.do(m.ctl.ChangeLevel)
		}

	case practice.Recording:
		switch key {
		case "s", "enter", " ":
			return m, m.do(m.ctl.StopRecording)
		case "c", "esc":
			return m, m.do(m.ctl.CancelRecording)
		}

	case practice.Results:
		switch key {
		case "n":
			return m, m.do(func() error { return m.ctl.NextExercise(m.ctx) })
		case "a":
			return m, m.do(m.ctl.TryAgain)
		case "p":
			return m, m.playBenchmark()
		case "l":
			return m, m.do(m.ctl.ChangeLevel)
		}

	case practice.Error:
		switch key {
		case "t", "enter":
			return m, m.do(func() error { return m.ctl.Retry(m.ctx) })
		case "a":
			return m, m.do(m.ctl.TryAgain)
		case "l":
			return m, m.do(m.ctl.ChangeLevel)
		}
	}
	return m, nil
}

func (m tuiModel) playBenchmark() tea.Cmd {
	c := m.snap.Content
	if m.player == nil || c == nil || c.Benchmark == nil || c.Benchmark.URL == "" {
		return nil
	}
	if m.playing {
		m.player.Stop()
		return nil
	}
	out := m.out
	m.player.Play(m.ctx, c.Benchmark.URL, playback.Callbacks{
		OnStart: func() { out.Send(playbackMsg{Playing: true}) },
		OnEnd:   func() { out.Send(playbackMsg{}) },
		OnError: func(err error) {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			out.Send(playbackMsg{Err: err})
		},
	})
	return nil
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	barChars     = []rune("▁▂▃▄▅▆▇█")
)

func (m tuiModel) View() string {
	var b strings.Builder

	header := titleStyle.Render("parley") + dimStyle.Render(" · "+m.snap.Variant.String())
	if m.snap.Level != "" {
		header += dimStyle.Render(" · " + m.snap.Level)
	}
	if ref := m.exerciseLabel(); ref != "" {
		header += dimStyle.Render(" · " + ref)
	}
	b.WriteString(header + "\n\n")

	switch m.snap.State {
	case practice.SelectingLevel:
		b.WriteString("Choose your level:\n\n")
		for i, l := range m.levels {
			if i == m.cursor {
				b.WriteString(cursorStyle.Render("  ▶ "+l) + "\n")
			} else {
				b.WriteString("    " + l + "\n")
			}
		}

	case practice.Loading:
		b.WriteString(m.spinner() + " Loading exercise...\n")

	case practice.Ready:
		m.renderContent(&b, false)
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("Up to %ds of recording.", m.maxDuration())) + "\n")

	case practice.Recording:
		m.renderContent(&b, false)
		b.WriteString("\n" + recStyle.Render(fmt.Sprintf("● REC %s", formatSeconds(m.remaining))) + "\n")
		b.WriteString(renderBars(m.bars) + "\n")
		if m.quiet.Warned() {
			b.WriteString(warnStyle.Render("  ⚠ no voice detected") + "\n")
		}

	case practice.Processing:
		m.renderContent(&b, false)
		b.WriteString("\n" + m.spinner() + " Analyzing your recording...\n")

	case practice.Results:
		m.renderContent(&b, true)
		m.renderResult(&b)

	case practice.Error:
		if m.snap.Content != nil {
			m.renderContent(&b, false)
			b.WriteString("\n")
		}
		if m.snap.Err != nil {
			b.WriteString(errStyle.Render(m.snap.Err.Message) + "\n")
		}
	}

	if m.opErr != nil {
		b.WriteString("\n" + warnStyle.Render(m.opErr.Error()) + "\n")
	}

	b.WriteString("\n" + m.helpLine() + "\n")
	if m.deviceLine != "" {
		b.WriteString(helpStyle.Render(m.deviceLine) + "\n")
	}
	b.WriteString(helpStyle.Render("parley "+m.version) + "\n")

	if m.width > 0 {
		return lipgloss.NewStyle().Width(m.width).Render(b.String())
	}
	return b.String()
}

func (m tuiModel) exerciseLabel() string {
	c := m.snap.Content
	if c == nil || c.Ref.Module == "" {
		return ""
	}
	return fmt.Sprintf("%s #%d", c.Ref.Module, c.Ref.Index+1)
}

func (m tuiModel) maxDuration() int {
	if c := m.snap.Content; c != nil && c.MaxDuration > 0 {
		return c.MaxDuration
	}
	return practice.DefaultMaxDuration
}

func (m tuiModel) spinner() string {
	return spinnerChars[m.frame%len(spinnerChars)]
}

func (m tuiModel) renderContent(b *strings.Builder, marked bool) {
	c := m.snap.Content
	if c == nil {
		return
	}
	b.WriteString(promptStyle.Render(c.Prompt) + "\n")
	if c.Translation != "" {
		b.WriteString(dimStyle.Render(c.Translation) + "\n")
	}
	if c.Hint != "" {
		b.WriteString(dimStyle.Render("hint: "+c.Hint) + "\n")
	}
	if len(c.Targets) > 0 {
		used := map[string]bool{}
		if marked && m.snap.Result != nil {
			for _, w := range m.snap.Result.Words {
				used[w.Word] = w.Used
			}
		}
		var words []string
		for _, t := range c.Targets {
			w := t.Word
			if t.Translation != "" {
				w += " (" + t.Translation + ")"
			}
			switch {
			case !marked:
			case used[t.Word]:
				w = okStyle.Render("✓ " + w)
			default:
				w = warnStyle.Render("✗ " + w)
			}
			words = append(words, w)
		}
		b.WriteString("\nUse: " + strings.Join(words, ", ") + "\n")
	}
	if c.Benchmark != nil && c.Benchmark.URL != "" && m.playing {
		b.WriteString(dimStyle.Render("♪ playing example") + "\n")
	}
}

func (m tuiModel) renderResult(b *strings.Builder) {
	r := m.snap.Result
	if r == nil {
		return
	}
	b.WriteString("\n" + titleStyle.Render(fmt.Sprintf("Score: %.0f", r.Score)) + "\n")
	if r.Transcription != "" {
		b.WriteString(dimStyle.Render("You said: ") + r.Transcription + "\n")
	}
	if r.Feedback != "" {
		b.WriteString(r.Feedback + "\n")
	}
	for _, w := range r.Words {
		if w.Note != "" {
			b.WriteString(dimStyle.Render("  "+w.Word+": "+w.Note) + "\n")
		}
	}
	for _, p := range r.Phonemes {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %s: /%s/ sounded like /%s/", p.Word, p.Expected, p.Actual)) + "\n")
	}
}

func (m tuiModel) helpLine() string {
	var keys [][2]string
	switch m.snap.State {
	case practice.SelectingLevel:
		keys = [][2]string{{"↑/↓", "level"}, {"enter", "start"}}
	case practice.Ready:
		keys = [][2]string{{"r", "record"}}
		if m.hasBenchmark() {
			keys = append(keys, [2]string{"p", "listen"})
		}
		if m.snap.Variant == practice.Speaking {
			keys = append(keys, [2]string{"l", "level"})
		}
	case practice.Recording:
		keys = [][2]string{{"s", "stop"}, {"c", "cancel"}}
	case practice.Results:
		keys = [][2]string{{"n", "next"}, {"a", "try again"}}
		if m.hasBenchmark() {
			keys = append(keys, [2]string{"p", "listen"})
		}
		if m.snap.Variant == practice.Speaking {
			keys = append(keys, [2]string{"l", "level"})
		}
	case practice.Error:
		keys = [][2]string{{"t", "retry"}}
		if m.snap.Content != nil {
			keys = append(keys, [2]string{"a", "try again"})
		}
		if m.snap.Variant == practice.Speaking {
			keys = append(keys, [2]string{"l", "level"})
		}
	}
	keys = append(keys, [2]string{"q", "quit"})

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = keyStyle.Render(k[0]) + helpStyle.Render(" "+k[1])
	}
	return strings.Join(parts, helpStyle.Render("  "))
}

func (m tuiModel) hasBenchmark() bool {
	c := m.snap.Content
	return m.player != nil && c != nil && c.Benchmark != nil && c.Benchmark.URL != ""
}

func renderBars(f visual.Frame) string {
	var b strings.Builder
	for _, v := range f {
		v = min(max(v, visual.MinBar), visual.MaxBar)
		idx := (v - visual.MinBar) * (len(barChars) - 1) / (visual.MaxBar - visual.MinBar)
		c := string(barChars[idx])
		b.WriteString(c + c + " ")
	}
	return barStyle.Render(strings.TrimRight(b.String(), " "))
}

func formatSeconds(s int) string {
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
