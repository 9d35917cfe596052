package content

import (
	"context"
	"fmt"
	"sync"

	"parley/auth"
	"parley/practice"
)

// Fake serves a small built-in catalogue without a network.
type Fake struct {
	mu       sync.Mutex
	sessions int
	calls    []practice.ExerciseRef
}

func NewFake() *Fake { return &Fake{} }

var speakingPrompts = map[string]practice.Content{
	"A1": {
		Prompt:      "Introduce yourself and your family.",
		Translation: "Présentez-vous et votre famille.",
		Targets:     []practice.TargetWord{{Word: "brother", Translation: "frère"}, {Word: "live", Translation: "habiter"}},
		MaxDuration: 30,
	},
	"A2": {
		Prompt:      "Describe your favourite meal.",
		Targets:     []practice.TargetWord{{Word: "delicious"}, {Word: "recipe"}, {Word: "usually"}},
		MaxDuration: 45,
	},
	"B1": {
		Prompt:      "Tell me about your last holiday.",
		Hint:        "Use the past tense.",
		Targets:     []practice.TargetWord{{Word: "beach"}, {Word: "sunset"}, {Word: "relaxing"}},
		MaxDuration: 60,
	},
	"B2": {
		Prompt:      "Should cities ban cars from their centres?",
		Targets:     []practice.TargetWord{{Word: "pollution"}, {Word: "however"}, {Word: "pedestrian"}},
		MaxDuration: 90,
	},
	"C1": {
		Prompt:      "Argue for or against remote work.",
		Targets:     []practice.TargetWord{{Word: "productivity"}, {Word: "nevertheless"}, {Word: "isolation"}},
		MaxDuration: 120,
	},
}

var pronunciationWords = []string{"thought", "through", "rural", "squirrel", "world", "sixth", "clothes", "specific"}

// Levels lists the speaking levels the fake knows.
func Levels() []string { return []string{"A1", "A2", "B1", "B2", "C1"} }

func (f *Fake) Fetch(ctx context.Context, creds auth.Credentials, ref practice.ExerciseRef) (practice.Content, error) {
	if _, err := creds.Token(ctx); err != nil {
		return practice.Content{}, err
	}
	if err := ctx.Err(); err != nil {
		return practice.Content{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ref)

	if ref.Module != "" {
		word := pronunciationWords[((ref.Index%len(pronunciationWords))+len(pronunciationWords))%len(pronunciationWords)]
		return practice.Content{
			Prompt:      fmt.Sprintf("Say the word %q clearly.", word),
			Targets:     []practice.TargetWord{{Word: word}},
			Benchmark:   &practice.Benchmark{Text: word},
			MaxDuration: 5,
			Ref:         practice.ExerciseRef{Module: ref.Module, Index: ref.Index},
		}, nil
	}

	c, ok := speakingPrompts[ref.Level]
	if !ok {
		return practice.Content{}, fmt.Errorf("%w: unknown level %q", ErrInvalidContent, ref.Level)
	}
	f.sessions++
	c.Ref = practice.ExerciseRef{Level: ref.Level, SessionID: fmt.Sprintf("offline-%d", f.sessions)}
	return c, nil
}

// Calls returns the refs fetched so far.
func (f *Fake) Calls() []practice.ExerciseRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]practice.ExerciseRef, len(f.calls))
	copy(out, f.calls)
	return out
}
