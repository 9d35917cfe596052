package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parley/auth"
	"parley/capture"
	"parley/practice"
)

// Fake scores every recording locally. It marks each target word as used
// and derives a score from the recording length.
type Fake struct {
	delay time.Duration
	err   error

	mu    sync.Mutex
	calls []practice.SubmissionContext
}

func NewFake(delay time.Duration, err error) *Fake {
	return &Fake{delay: delay, err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Analyze(ctx context.Context, creds auth.Credentials, audio capture.CompletedAudio, sc practice.SubmissionContext) (practice.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sc)
	f.mu.Unlock()

	if _, err := creds.Token(ctx); err != nil {
		return practice.Result{}, err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return practice.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return practice.Result{}, fmt.Errorf("fake scorer error: %w", f.err)
	}

	words := make([]practice.WordUsage, len(sc.Targets))
	for i, t := range sc.Targets {
		words[i] = practice.WordUsage{Word: t.Word, Used: true, Correct: true}
	}
	score := min(100, 40+audio.Duration.Seconds()*5)
	return practice.Result{
		AttemptID:     sc.AttemptID,
		Score:         score,
		Transcription: fmt.Sprintf("(%.1fs of %s audio)", audio.Duration.Seconds(), audio.Format),
		Words:         words,
		Feedback:      "Scored offline.",
	}, nil
}

// Calls returns the submission contexts seen so far.
func (f *Fake) Calls() []practice.SubmissionContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]practice.SubmissionContext, len(f.calls))
	copy(out, f.calls)
	return out
}
