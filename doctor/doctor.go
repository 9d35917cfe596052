// Package doctor runs end-to-end diagnostics: it records a short sample,
// fetches an exercise and has the sample scored.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"parley/auth"
	"parley/capture"
	"parley/practice"
)

const DefaultRecordFor = 3 * time.Second

// Env is what the checks run against.
type Env struct {
	Out         io.Writer
	LogDir      string
	Acquirer    practice.Acquirer
	Provider    practice.ContentProvider
	Submitter   practice.Submitter
	Credentials auth.Credentials
	Ref         practice.ExerciseRef
	RecordFor   time.Duration
}

type state struct {
	env     Env
	content practice.Content
	audio   capture.CompletedAudio
}

type check struct {
	name string
	run  func(ctx context.Context, s *state) (string, error)
}

var checks = []check{
	{"Log directory", checkLogDir},
	{"Microphone", checkMicrophone},
	{"Content service", checkContent},
	{"Scoring service", checkScoring},
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). A failed check skips the ones after it.
func Run(ctx context.Context, env Env) int {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.RecordFor <= 0 {
		env.RecordFor = DefaultRecordFor
	}
	out := env.Out
	s := &state{env: env}

	fmt.Fprintln(out, "parley doctor - system diagnostics")
	fmt.Fprintln(out, "==================================")

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !allPass {
			fmt.Fprintln(out, "  SKIP")
			continue
		}
		detail, err := c.run(ctx, s)
		if err != nil {
			fmt.Fprintf(out, "  FAIL: %v\n", err)
			allPass = false
			continue
		}
		fmt.Fprintf(out, "  PASS: %s\n", detail)
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func checkLogDir(_ context.Context, s *state) (string, error) {
	if s.env.LogDir == "" {
		return "logging disabled", nil
	}
	f, err := os.CreateTemp(s.env.LogDir, "doctor-*")
	if err != nil {
		return "", fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return s.env.LogDir, nil
}

func checkMicrophone(ctx context.Context, s *state) (string, error) {
	fmt.Fprintf(s.env.Out, "  Speak for %.0f seconds...\n", s.env.RecordFor.Seconds())

	rec, err := s.env.Acquirer.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer rec.Release()

	select {
	case <-time.After(s.env.RecordFor):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	spectrum := rec.Analyser().FrequencyData(nil)
	payload, err := rec.Stop()
	if err != nil {
		return "", err
	}
	if payload.Chunks == 0 || len(payload.Data) == 0 {
		return "", errors.New("no audio captured")
	}
	if len(spectrum) == 0 || slices.Max(spectrum) == 0 {
		fmt.Fprintln(s.env.Out, "  Warning: input is silent")
	}
	s.audio = payload
	return fmt.Sprintf("%s, %.1fs, %.1f KB %s", rec.DeviceName(), payload.Duration.Seconds(),
		float64(len(payload.Data))/1024, payload.Format), nil
}

func checkContent(ctx context.Context, s *state) (string, error) {
	c, err := s.env.Provider.Fetch(ctx, s.env.Credentials, s.env.Ref)
	if err != nil {
		return "", err
	}
	s.content = c
	prompt := c.Prompt
	if len(prompt) > 60 {
		prompt = prompt[:60] + "..."
	}
	return fmt.Sprintf("%q", prompt), nil
}

func checkScoring(ctx context.Context, s *state) (string, error) {
	variant := practice.Speaking
	if s.env.Ref.Module != "" {
		variant = practice.Pronunciation
	}
	sc := practice.SubmissionContext{
		AttemptID: uuid.NewString(),
		Variant:   variant.String(),
		Prompt:    s.content.Prompt,
		Targets:   s.content.Targets,
		Ref:       s.content.Ref,
	}
	start := time.Now()
	r, err := s.env.Submitter.Submit(ctx, s.env.Credentials, s.audio, sc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("score %.0f in %dms", r.Score, time.Since(start).Milliseconds()), nil
}
