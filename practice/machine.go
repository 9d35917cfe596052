// Package practice runs one practice attempt at a time: it fetches an
// exercise, owns the microphone while the learner speaks, and hands the
// recording to the scoring service.
//
// Every state change happens under the machine's mutex. Remote calls and
// microphone acquisition run with the mutex released while a busy flag
// rejects conflicting operations; a generation counter drops completions
// that arrive after Close.
package practice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/auth"
	"parley/capture"
	"parley/clock"
	"parley/countdown"
	"parley/log"
	"parley/observe"
	"parley/visual"
)

// DefaultMaxDuration applies to content that does not set a limit.
const DefaultMaxDuration = 60

// Sink receives the machine's output. Calls are synchronous and must not
// call back into the Machine.
type Sink interface {
	StateChanged(Snapshot)
	Frame(visual.Frame)
	Tick(remaining int)
}

type Config struct {
	Variant Variant

	// Module and Index pick the first pronunciation exercise.
	Module string
	Index  int

	Provider    ContentProvider
	Acquirer    Acquirer
	Submitter   Submitter
	Credentials auth.Credentials

	// Clock drives the countdown and the visualization sampler.
	// Defaults to the real clock.
	Clock          clock.Clock
	SampleInterval time.Duration

	Sink    Sink
	Metrics *observe.Metrics
}

// Snapshot is a copy of the machine's observable state.
type Snapshot struct {
	Variant   Variant
	State     State
	Busy      bool
	Level     string
	Content   *Content
	Result    *Result
	Err       *SessionError
	Remaining int
	AttemptID string
	Attempts  int
}

type op int

const (
	opNone op = iota
	opFetch
	opAcquire
	opSubmit
)

type Machine struct {
	cfg     Config
	clk     clock.Clock
	sampler *visual.Sampler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	state        State
	busy         bool
	closed       bool
	gen          uint64
	finalizedGen uint64
	level        string
	ref          ExerciseRef
	content      *Content
	result       *Result
	err          *SessionError
	failed       op
	rec          *capture.Recording
	bars         *visual.Handle
	countdown    *countdown.Timer
	remaining    int
	attemptID    string
	attempts     int
}

func New(cfg Config) (*Machine, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("content provider is required"))
	}
	if cfg.Acquirer == nil {
		errs = append(errs, errors.New("acquirer is required"))
	}
	if cfg.Submitter == nil {
		errs = append(errs, errors.New("submitter is required"))
	}
	if cfg.Credentials == nil {
		errs = append(errs, errors.New("credentials are required"))
	}
	if cfg.Variant == Pronunciation && cfg.Module == "" {
		errs = append(errs, errors.New("pronunciation practice needs a module"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:     cfg,
		clk:     cfg.Clock,
		sampler: visual.NewSampler(cfg.Clock, cfg.SampleInterval),
		ctx:     ctx,
		cancel:  cancel,
	}
	switch cfg.Variant {
	case Pronunciation:
		m.state = Loading
		m.ref = ExerciseRef{Module: cfg.Module, Index: cfg.Index}
	default:
		m.state = SelectingLevel
	}
	return m, nil
}

// SelectLevel fetches a speaking session at level. It blocks until the
// content arrives and returns the SessionError if the fetch failed.
func (m *Machine) SelectLevel(ctx context.Context, level string) error {
	m.mu.Lock()
	if err := m.checkLocked("select level", SelectingLevel); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.cfg.Variant != Speaking || level == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: select level %q", ErrInvalidTransition, level)
	}
	m.level = level
	return m.load(ctx, ExerciseRef{Level: level}, "level_selected")
}

// Begin fetches the first pronunciation exercise.
func (m *Machine) Begin(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkLocked("begin", Loading); err != nil {
		m.mu.Unlock()
		return err
	}
	return m.load(ctx, m.ref, "begin")
}

// load fetches ref. Called with m.mu held; returns with it released.
func (m *Machine) load(ctx context.Context, ref ExerciseRef, reason string) error {
	m.ref = ref
	m.content = nil
	m.transitionLocked(Loading, reason)
	m.busy = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	start := m.clk.Now()
	content, err := m.cfg.Provider.Fetch(ctx, m.cfg.Credentials, ref)
	m.cfg.Metrics.RecordFetch(ctx, m.clk.Now().Sub(start), err)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return ErrClosed
	}
	m.busy = false
	if err != nil {
		return m.failLocked(fetchError(err), opFetch)
	}
	if content.MaxDuration <= 0 {
		content.MaxDuration = DefaultMaxDuration
	}
	content.Ref = mergeRef(ref, content.Ref)
	m.content = &content
	m.remaining = content.MaxDuration
	m.transitionLocked(Ready, "content_loaded")
	return nil
}

// mergeRef fills what the provider left out of got from the request.
func mergeRef(want, got ExerciseRef) ExerciseRef {
	if got.Module == "" {
		got.Module = want.Module
	}
	if got.Level == "" {
		got.Level = want.Level
	}
	if got.Index == 0 {
		got.Index = want.Index
	}
	if got.SessionID == "" {
		got.SessionID = want.SessionID
	}
	return got
}

// StartRecording opens the microphone and starts the countdown and the
// visualization. If the microphone cannot be opened the machine enters Error
// and nothing stays open.
func (m *Machine) StartRecording(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkLocked("start recording", Ready); err != nil {
		m.mu.Unlock()
		return err
	}
	m.busy = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	rec, err := m.cfg.Acquirer.Acquire(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		if rec != nil {
			rec.Release()
		}
		return ErrClosed
	}
	m.busy = false
	if err != nil {
		return m.failLocked(acquireError(err), opAcquire)
	}

	m.rec = rec
	m.attemptID = uuid.NewString()
	m.attempts++
	m.remaining = m.content.MaxDuration
	m.bars = m.sampler.Start(rec.Analyser(), m.publishFrame)
	m.countdown = countdown.Start(m.clk, m.content.MaxDuration, m.publishTick, func() {
		m.expire(gen)
	})
	m.cfg.Metrics.RecordingStarted(ctx)
	m.transitionLocked(Recording, "recording_started")
	return nil
}

func (m *Machine) publishFrame(f visual.Frame) {
	if m.cfg.Sink != nil {
		m.cfg.Sink.Frame(f)
	}
}

func (m *Machine) publishTick(remaining int) {
	if m.cfg.Sink != nil {
		m.cfg.Sink.Tick(remaining)
	}
}

// StopRecording ends the recording and submits it. Teardown is complete
// when it returns; scoring continues in the background. Stopping a
// recording the countdown already finished is a no-op.
func (m *Machine) StopRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state == Recording {
		m.finalizeLocked("stopped")
		return nil
	}
	if m.finalizedGen == m.gen && (m.state == Processing || m.state == Results || m.state == Error) {
		return nil
	}
	return fmt.Errorf("%w: stop recording in %s", ErrInvalidTransition, m.state)
}

func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != Recording {
		return
	}
	m.finalizeLocked("time_up")
}

// finalizeLocked runs once per recording: the caller saw state Recording
// under m.mu, and the state leaves Recording before m.mu is released.
func (m *Machine) finalizeLocked(reason string) {
	rec := m.rec
	m.teardownLocked()
	m.finalizedGen = m.gen

	payload, err := rec.Stop()
	rec.Release()
	m.cfg.Metrics.RecordingEnded(m.ctx)
	if err != nil {
		m.failLocked(acquireError(err), opAcquire)
		return
	}
	m.cfg.Metrics.RecordPayload(m.ctx, string(payload.Format), len(payload.Data), payload.Duration)

	sc := SubmissionContext{
		AttemptID: m.attemptID,
		Variant:   m.cfg.Variant.String(),
		Prompt:    m.content.Prompt,
		Targets:   m.content.Targets,
		Ref:       m.content.Ref,
	}
	m.busy = true
	m.transitionLocked(Processing, reason)

	m.wg.Add(1)
	go m.submit(m.gen, payload, sc)
}

func (m *Machine) submit(gen uint64, payload capture.CompletedAudio, sc SubmissionContext) {
	defer m.wg.Done()

	start := m.clk.Now()
	res, err := m.cfg.Submitter.Submit(m.ctx, m.cfg.Credentials, payload, sc)
	m.cfg.Metrics.RecordSubmit(m.ctx, m.clk.Now().Sub(start), err)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != Processing {
		return
	}
	m.busy = false
	if err != nil {
		m.failLocked(submitError(err), opSubmit)
		return
	}
	if res.AttemptID == "" {
		res.AttemptID = sc.AttemptID
	}
	m.result = &res
	log.Result(res.AttemptID, res.Score, res.Transcription)
	m.transitionLocked(Results, "scored")
}

// CancelRecording releases the microphone and discards the recording
// without submitting it.
func (m *Machine) CancelRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("cancel recording", Recording); err != nil {
		return err
	}
	rec := m.rec
	m.teardownLocked()
	rec.Release()
	m.cfg.Metrics.RecordingEnded(m.ctx)
	m.gen++
	m.transitionLocked(Ready, "cancelled")
	return nil
}

// teardownLocked stops the visualization and the countdown and detaches the
// recording. The caller releases the recording.
func (m *Machine) teardownLocked() {
	if m.bars != nil {
		m.bars.Stop()
		m.bars = nil
	}
	if m.countdown != nil {
		m.countdown.Cancel()
		m.remaining = m.countdown.Remaining()
		m.countdown = nil
	}
	m.rec = nil
}

// Retry recovers from Error. A failed fetch is repeated. A failed
// submission starts over with a fresh exercise; the old recording is never
// sent again. Microphone failures return to Ready. An expired session
// is rejected with ErrReauthRequired until the credentials are valid again.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkLocked("retry", Error); err != nil {
		m.mu.Unlock()
		return err
	}
	switch m.err.Kind {
	case PermissionDenied, DeviceUnavailable:
		if m.content != nil {
			m.transitionLocked(Ready, "retry")
			m.mu.Unlock()
			return nil
		}
	case SessionExpired:
		if !m.cfg.Credentials.Valid() {
			m.mu.Unlock()
			return ErrReauthRequired
		}
	}
	if m.failed == opSubmit {
		return m.load(ctx, m.freshRefLocked(), "retry")
	}
	return m.load(ctx, m.ref, "retry")
}

// freshRefLocked asks for a new speaking session or the same pronunciation
// exercise.
func (m *Machine) freshRefLocked() ExerciseRef {
	if m.cfg.Variant == Speaking {
		return ExerciseRef{Level: m.level}
	}
	return ExerciseRef{Module: m.ref.Module, Index: m.ref.Index}
}

// NextExercise loads the following pronunciation exercise, or a new random
// speaking session at the same level.
func (m *Machine) NextExercise(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkLocked("next exercise", Results); err != nil {
		m.mu.Unlock()
		return err
	}
	next := ExerciseRef{Level: m.level}
	if m.cfg.Variant == Pronunciation {
		next = ExerciseRef{Module: m.ref.Module, Index: m.ref.Index + 1}
	}
	return m.load(ctx, next, "next_exercise")
}

// TryAgain returns to Ready on the same exercise.
func (m *Machine) TryAgain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("try again", Results, Error); err != nil {
		return err
	}
	if m.content == nil {
		return fmt.Errorf("%w: try again without content", ErrInvalidTransition)
	}
	if m.state == Error {
		switch m.err.Kind {
		case SessionExpired, ContentFetchFailed:
			return fmt.Errorf("%w: try again after %s", ErrInvalidTransition, m.err.Kind)
		}
	}
	m.transitionLocked(Ready, "try_again")
	return nil
}

// ChangeLevel goes back to level selection.
func (m *Machine) ChangeLevel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("change level", Ready, Results, Error); err != nil {
		return err
	}
	if m.cfg.Variant != Speaking {
		return fmt.Errorf("%w: change level in %s practice", ErrInvalidTransition, m.cfg.Variant)
	}
	m.level = ""
	m.content = nil
	m.transitionLocked(SelectingLevel, "change_level")
	return nil
}

// Close releases a live recording without submitting it and turns every
// later operation into ErrClosed. Results still in flight are dropped.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.gen++
	if rec := m.rec; rec != nil {
		m.teardownLocked()
		rec.Release()
		m.cfg.Metrics.RecordingEnded(m.ctx)
	}
	m.busy = false
	m.cancel()
	log.SessionEnd(m.attempts)
	return nil
}

// Wait blocks until background submissions have returned.
func (m *Machine) Wait() {
	m.wg.Wait()
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	remaining := m.remaining
	if m.countdown != nil {
		remaining = m.countdown.Remaining()
	}
	return Snapshot{
		Variant:   m.cfg.Variant,
		State:     m.state,
		Busy:      m.busy,
		Level:     m.level,
		Content:   m.content,
		Result:    m.result,
		Err:       m.err,
		Remaining: remaining,
		AttemptID: m.attemptID,
		Attempts:  m.attempts,
	}
}

func (m *Machine) checkLocked(name string, allowed ...State) error {
	if m.closed {
		return ErrClosed
	}
	if m.busy {
		return fmt.Errorf("%w: %s", ErrBusy, name)
	}
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, name, m.state)
}

func (m *Machine) failLocked(se *SessionError, failed op) *SessionError {
	m.err = se
	m.failed = failed
	if se.Kind == SessionExpired {
		if inv, ok := m.cfg.Credentials.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	log.SessionError(se.Kind.String(), se.Message, se.Err)
	m.cfg.Metrics.RecordError(m.ctx, se.Kind.String())
	m.transitionLocked(Error, se.Kind.String())
	return se
}

// transitionLocked moves to state to and clears what the new state does
// not carry.
func (m *Machine) transitionLocked(to State, reason string) {
	from := m.state
	m.state = to
	switch to {
	case Error:
		m.result = nil
	case Results:
		m.err = nil
	default:
		m.err = nil
		m.result = nil
		m.failed = opNone
	}

	log.Transition(m.cfg.Variant.String(), from.String(), to.String(), reason)
	m.cfg.Metrics.RecordTransition(m.ctx, m.cfg.Variant.String(), from.String(), to.String())
	if m.cfg.Sink != nil {
		m.cfg.Sink.StateChanged(m.snapshotLocked())
	}
}
