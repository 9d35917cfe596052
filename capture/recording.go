package capture

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"parley/audio"
	"parley/encoder"
)

var (
	// ErrNoAudio is returned by Stop when the device never delivered a sample.
	ErrNoAudio = errors.New("no audio captured")
	// ErrReleased is returned by Stop after the recording was discarded.
	ErrReleased = errors.New("recording released")
)

// CompletedAudio is the assembled recording ready for upload.
type CompletedAudio struct {
	Data      []byte
	Format    encoder.Format
	MimeType  string
	Extension string
	Duration  time.Duration
	Chunks    int
}

// Recording is one live capture. It owns its device and encoder exclusively.
// Chunks are accepted only until Stop or Release.
type Recording struct {
	dev      audio.CaptureDevice
	enc      encoder.Encoder
	analyser *audio.Analyser

	mu         sync.Mutex
	live       bool
	stopped    bool
	chunks     int
	sampleBuf  []int16
	blockChan  chan []int16
	encodeDone chan struct{}

	errMu     sync.Mutex
	encodeErr error

	result    CompletedAudio
	resultErr error

	releaseOnce sync.Once
}

func newRecording(dev audio.CaptureDevice, enc encoder.Encoder) *Recording {
	r := &Recording{
		dev:        dev,
		enc:        enc,
		analyser:   audio.NewAnalyser(),
		live:       true,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(r.encodeDone)
		for block := range r.blockChan {
			start := time.Now()
			if err := r.enc.EncodeBlock(block); err != nil {
				r.errMu.Lock()
				if r.encodeErr == nil {
					r.encodeErr = err
				}
				r.errMu.Unlock()
			}
			r.enc.AddEncodeTime(time.Since(start))
		}
	}()

	return r
}

// AppendChunk records a PCM chunk. It reports false once the recording no
// longer accepts audio.
func (r *Recording) AppendChunk(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		return false
	}

	// pcm is only read here; the backend may reuse it after we return.
	r.chunks++
	r.analyser.Write(pcm)

	for i := 0; i+1 < len(pcm); i += audio.BytesPerSample {
		r.sampleBuf = append(r.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		r.blockChan <- block
	}
	return true
}

// Stop closes the encoder and returns the payload. Calling it again returns
// the same result. The device keeps its hardware until Release.
func (r *Recording) Stop() (CompletedAudio, error) {
	r.mu.Lock()
	if r.stopped {
		defer r.mu.Unlock()
		return r.result, r.resultErr
	}
	r.stopped = true
	r.live = false
	if len(r.sampleBuf) > 0 {
		partial := make([]int16, len(r.sampleBuf))
		copy(partial, r.sampleBuf)
		r.sampleBuf = nil
		r.blockChan <- partial
	}
	close(r.blockChan)
	chunks := r.chunks
	r.mu.Unlock()

	r.dev.ClearCallback()
	<-r.encodeDone

	result, err := r.assemble(chunks)

	r.mu.Lock()
	r.result, r.resultErr = result, err
	r.mu.Unlock()
	return result, err
}

func (r *Recording) assemble(chunks int) (CompletedAudio, error) {
	r.errMu.Lock()
	encodeErr := r.encodeErr
	r.errMu.Unlock()
	if encodeErr != nil {
		return CompletedAudio{}, encodeErr
	}
	if err := r.enc.Close(); err != nil {
		return CompletedAudio{}, err
	}
	frames := r.enc.TotalFrames()
	if frames == 0 {
		return CompletedAudio{}, ErrNoAudio
	}
	format := r.enc.Format()
	return CompletedAudio{
		Data:      r.enc.Bytes(),
		Format:    format,
		MimeType:  format.MimeType(),
		Extension: format.Extension(),
		Duration:  time.Duration(frames) * time.Second / encoder.SampleRate,
		Chunks:    chunks,
	}, nil
}

// Release stops the device and frees it. Without a prior Stop, captured
// chunks are discarded. Safe to call any number of times.
func (r *Recording) Release() {
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		r.live = false
		discard := !r.stopped
		if discard {
			r.stopped = true
			r.resultErr = ErrReleased
			r.chunks = 0
			r.sampleBuf = nil
			close(r.blockChan)
		}
		r.mu.Unlock()

		r.dev.ClearCallback()
		r.dev.Stop()
		r.dev.Close()
		if discard {
			<-r.encodeDone
			_ = r.enc.Close()
		}
	})
}

// Analyser exposes the spectrum of the live input.
func (r *Recording) Analyser() *audio.Analyser { return r.analyser }

// Chunks returns how many chunks have been appended.
func (r *Recording) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks
}

func (r *Recording) DeviceName() string { return r.dev.DeviceName() }
