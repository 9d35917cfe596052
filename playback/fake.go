package playback

import (
	"context"
	"sync"
)

// FakeOutput records what it was asked to play. With Block set, Play waits
// for ctx to be cancelled.
type FakeOutput struct {
	Block bool

	mu     sync.Mutex
	played [][]int16
	rates  []int
	closed bool
}

func (f *FakeOutput) Play(ctx context.Context, samples []int16, sampleRate int) error {
	f.mu.Lock()
	f.played = append(f.played, samples)
	f.rates = append(f.rates, sampleRate)
	f.mu.Unlock()
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *FakeOutput) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Played returns the sample buffers played so far.
func (f *FakeOutput) Played() [][]int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int16(nil), f.played...)
}

func (f *FakeOutput) Rates() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.rates...)
}

func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
