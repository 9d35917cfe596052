package practice

import (
	"context"

	"parley/auth"
	"parley/capture"
)

// Variant selects which practice flow a Machine runs.
type Variant int

const (
	Speaking Variant = iota
	Pronunciation
)

func (v Variant) String() string {
	switch v {
	case Speaking:
		return "speaking"
	case Pronunciation:
		return "pronunciation"
	}
	return "unknown"
}

// State is the machine's position in a practice attempt.
type State int

const (
	SelectingLevel State = iota
	Loading
	Ready
	Recording
	Processing
	Results
	Error
)

func (s State) String() string {
	switch s {
	case SelectingLevel:
		return "selecting_level"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Results:
		return "results"
	case Error:
		return "error"
	}
	return "unknown"
}

type TargetWord struct {
	Word        string `json:"word"`
	Translation string `json:"translation,omitempty"`
}

// Benchmark points at reference audio: a URL to play, or text for a
// speech synthesizer.
type Benchmark struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

// ExerciseRef identifies an exercise to the content and scoring services.
// Speaking exercises use Level and SessionID, pronunciation exercises use
// Module and Index.
type ExerciseRef struct {
	Module    string `json:"module,omitempty"`
	Level     string `json:"level,omitempty"`
	Index     int    `json:"index"`
	SessionID string `json:"session_id,omitempty"`
}

// Content is one exercise. It is not modified after it was fetched.
type Content struct {
	Prompt      string       `json:"prompt"`
	Translation string       `json:"translation,omitempty"`
	Hint        string       `json:"hint,omitempty"`
	Targets     []TargetWord `json:"targets,omitempty"`
	Benchmark   *Benchmark   `json:"benchmark,omitempty"`
	// MaxDuration bounds the recording, in seconds.
	MaxDuration int         `json:"max_duration"`
	Ref         ExerciseRef `json:"ref"`
}

type WordUsage struct {
	Word    string `json:"word"`
	Used    bool   `json:"used"`
	Correct bool   `json:"correct"`
	Note    string `json:"note,omitempty"`
}

type PhonemeError struct {
	Word     string `json:"word"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Position int    `json:"position"`
}

// Result is the scoring service's verdict on one attempt.
type Result struct {
	AttemptID     string         `json:"attempt_id"`
	Score         float64        `json:"score"`
	Transcription string         `json:"transcription"`
	Words         []WordUsage    `json:"words,omitempty"`
	Feedback      string         `json:"feedback,omitempty"`
	Phonemes      []PhonemeError `json:"phonemes,omitempty"`
}

// SubmissionContext tells the scoring service what the recording answers.
type SubmissionContext struct {
	AttemptID string       `json:"attempt_id"`
	Variant   string       `json:"variant"`
	Prompt    string       `json:"prompt"`
	Targets   []TargetWord `json:"targets,omitempty"`
	Ref       ExerciseRef  `json:"ref"`
}

// ContentProvider fetches exercises. A speaking ref with no SessionID asks
// for a new random session at Level.
type ContentProvider interface {
	Fetch(ctx context.Context, creds auth.Credentials, ref ExerciseRef) (Content, error)
}

// Submitter sends one recording for scoring. It must not retry.
type Submitter interface {
	Submit(ctx context.Context, creds auth.Credentials, audio capture.CompletedAudio, sc SubmissionContext) (Result, error)
}

// Acquirer opens the microphone for one recording.
type Acquirer interface {
	Acquire(ctx context.Context) (*capture.Recording, error)
}
