package scoring

import (
	"context"
	"errors"
	"time"

	"parley/auth"
	"parley/capture"
	"parley/practice"
)

var errEmptyPayload = errors.New("empty audio payload")

// Submitter sends a recording once and reports failures in the practice
// error taxonomy. It never retries.
type Submitter struct {
	scorer  Scorer
	timeout time.Duration
}

// NewSubmitter wraps scorer. timeout bounds one submission, zero means none.
func NewSubmitter(scorer Scorer, timeout time.Duration) *Submitter {
	return &Submitter{scorer: scorer, timeout: timeout}
}

func (s *Submitter) Submit(ctx context.Context, creds auth.Credentials, audio capture.CompletedAudio, sc practice.SubmissionContext) (practice.Result, error) {
	if len(audio.Data) == 0 {
		return practice.Result{}, practice.NewSessionError(practice.SubmissionFailed, errEmptyPayload)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.scorer.Analyze(ctx, creds, audio, sc)
	if err != nil {
		return practice.Result{}, classify(err)
	}
	return res, nil
}

func classify(err error) *practice.SessionError {
	var se *practice.SessionError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, ErrUnauthorized) {
		return practice.NewSessionError(practice.SessionExpired, err)
	}
	return practice.NewSessionError(practice.SubmissionFailed, err)
}
