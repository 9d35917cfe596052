package audio

import (
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize = 1024
	fakeChunkSize = fakeFrameSize * BytesPerSample
)

// FakeContext hands out FakeCaptures and remembers every one of them so tests
// can check that no stream was left open. With a replay buffer, captures feed
// that PCM in real time, which lets the app run without a microphone.
type FakeContext struct {
	mu            sync.Mutex
	newCaptureErr error
	startErr      error
	replay        []byte
	captures      []*FakeCapture
}

func NewFakeContext() *FakeContext {
	return &FakeContext{}
}

// NewReplayContext loads a 16 kHz mono 16-bit WAV file whose samples are
// replayed by every capture.
func NewReplayContext(wavPath string) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{replay: data}, nil
}

// FailNewCapture makes the next NewCapture calls fail with err.
func (f *FakeContext) FailNewCapture(err error) {
	f.mu.Lock()
	f.newCaptureErr = err
	f.mu.Unlock()
}

// FailStart makes Start fail with err on captures created afterwards.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newCaptureErr != nil {
		return nil, f.newCaptureErr
	}
	c := &FakeCapture{startErr: f.startErr, replay: f.replay}
	f.captures = append(f.captures, c)
	return c, nil
}

func (f *FakeContext) Close() {}

// Captures returns every capture created so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeCapture, len(f.captures))
	copy(out, f.captures)
	return out
}

// Last returns the most recently created capture, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

// LiveCaptures counts captures that were never closed.
func (f *FakeContext) LiveCaptures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.captures {
		if c.Live() {
			n++
		}
	}
	return n
}

type FakeCapture struct {
	startErr error
	replay   []byte

	mu         sync.Mutex
	cb         DataCallback
	started    bool
	stopped    bool
	closed     bool
	stopCalls  int
	closeCalls int
	stopCh     chan struct{}
	feedDone   chan struct{}
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	if len(f.replay) > 0 {
		f.stopCh = make(chan struct{})
		f.feedDone = make(chan struct{})
		go f.feed(f.stopCh, f.feedDone)
	}
	return nil
}

// feed replays the buffer at capture speed, then keeps sending silence.
func (f *FakeCapture) feed(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate)
	silence := make([]byte, fakeChunkSize)
	pos := 0
	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		chunk := silence
		if pos < len(f.replay) {
			end := min(pos+fakeChunkSize, len(f.replay))
			chunk = f.replay[pos:end]
			pos = end
		}
		f.Emit(chunk)
	}
}

// Emit delivers pcm to the callback as if the hardware produced it. It
// reports whether the data was delivered.
func (f *FakeCapture) Emit(pcm []byte) bool {
	f.mu.Lock()
	cb := f.cb
	live := f.started && !f.stopped && !f.closed
	f.mu.Unlock()
	if !live || cb == nil {
		return false
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	cb(buf, uint32(len(buf)/BytesPerSample))
	return true
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	f.stopCalls++
	f.stopped = true
	stopCh, feedDone := f.stopCh, f.feedDone
	f.stopCh = nil
	f.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		<-feedDone
	}
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closeCalls++
	f.closed = true
	f.mu.Unlock()
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Live reports whether the capture still holds the (simulated) hardware.
func (f *FakeCapture) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// Started reports whether Start succeeded.
func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// CloseCalls returns how many times Close was called.
func (f *FakeCapture) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}
