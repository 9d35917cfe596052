// Package playback plays benchmark recordings and the short cue tones that
// mark the start and end of a recording.
package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/mewkiz/flac"

	"parley/log"
)

var (
	ErrUnsupportedSource = errors.New("unsupported audio source")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

const maxSourceSize = 32 << 20

// Output renders mono 16-bit samples. Play blocks until the samples have
// been played or ctx is done.
type Output interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
	Close()
}

type Callbacks struct {
	OnStart func()
	OnEnd   func()
	OnError func(error)
}

// Player plays one benchmark at a time. Cues may overlap a benchmark.
type Player struct {
	out    Output
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	muted  bool
	wg     sync.WaitGroup
}

func NewPlayer(out Output, client *http.Client) *Player {
	if client == nil {
		client = http.DefaultClient
	}
	return &Player{out: out, client: client}
}

// Mute silences cue tones. Benchmarks still play.
func (p *Player) Mute() {
	p.mu.Lock()
	p.muted = true
	p.mu.Unlock()
}

// Play fetches source, a http(s) URL or a local path to a WAV or FLAC file,
// and plays it in the background. Exactly one of OnEnd or OnError is called;
// OnStart precedes OnEnd. A later Play or Stop interrupts this one, which
// then ends with context.Canceled.
func (p *Player) Play(ctx context.Context, source string, cb Callbacks) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer cancel()
		err := p.play(ctx, source, cb.OnStart)
		if err != nil {
			log.Warnf("playback %s: %v", source, err)
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}
		if cb.OnEnd != nil {
			cb.OnEnd()
		}
	}()
}

func (p *Player) play(ctx context.Context, source string, onStart func()) error {
	data, err := p.load(ctx, source)
	if err != nil {
		return err
	}
	samples, rate, err := Decode(data)
	if err != nil {
		return err
	}
	if onStart != nil {
		onStart()
	}
	if err := p.out.Play(ctx, samples, rate); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Player) load(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedSource, err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, "GET", source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch benchmark: status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxSourceSize))
	case "file":
		return os.ReadFile(u.Path)
	case "":
		if source == "" {
			return nil, ErrUnsupportedSource
		}
		return os.ReadFile(source)
	}
	return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, u.Scheme)
}

// Stop interrupts the current benchmark, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Close stops playback, waits for it to finish and closes the output.
func (p *Player) Close() {
	p.Stop()
	p.wg.Wait()
	p.out.Close()
}

type Cue int

const (
	CueStart Cue = iota
	CueEnd
	CueError
)

const cueSampleRate = 44100

var (
	cueOnce    sync.Once
	cueSamples map[Cue][]int16
)

func initCues() {
	cueSamples = map[Cue][]int16{
		// Start: high pitch, short
		CueStart: generateTick(cueSampleRate, 1200, 0.2, 0.5, 60),
		// End: medium pitch, slightly longer
		CueEnd: generateTick(cueSampleRate, 900, 0.2, 0.5, 40),
		// Error: low pitch double-beep
		CueError: generateDoubleBeep(cueSampleRate, 350, 0.08, 0.05, 0.6, 30),
	}
}

// PlayCue plays a cue tone in the background.
func (p *Player) PlayCue(c Cue) {
	p.mu.Lock()
	muted := p.muted
	if !muted {
		p.wg.Add(1)
	}
	p.mu.Unlock()
	if muted {
		return
	}
	cueOnce.Do(initCues)
	samples := cueSamples[c]
	go func() {
		defer p.wg.Done()
		if err := p.out.Play(context.Background(), samples, cueSampleRate); err != nil {
			log.Warnf("cue playback: %v", err)
		}
	}()
}

func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

// Decode turns a WAV (16-bit PCM) or FLAC file into mono samples.
func Decode(data []byte) ([]int16, int, error) {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return decodeWAV(data)
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return decodeFLAC(data)
	}
	return nil, 0, ErrUnsupportedFormat
}

func decodeWAV(data []byte) ([]int16, int, error) {
	var channels, bits, format int
	var rate int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		end := min(body+size, len(data))
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			format = int(binary.LittleEndian.Uint16(data[body:]))
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			rate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if format != 1 || bits != 16 || channels < 1 {
				return nil, 0, fmt.Errorf("%w: wav format=%d bits=%d channels=%d", ErrUnsupportedFormat, format, bits, channels)
			}
			frames := (end - body) / (2 * channels)
			out := make([]int16, frames)
			for i := range out {
				var sum int
				for ch := 0; ch < channels; ch++ {
					off := body + (i*channels+ch)*2
					sum += int(int16(binary.LittleEndian.Uint16(data[off:])))
				}
				out[i] = int16(sum / channels)
			}
			return out, rate, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, fmt.Errorf("%w: wav has no data chunk", ErrUnsupportedFormat)
}

func decodeFLAC(data []byte) ([]int16, int, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	defer stream.Close()

	shift := int(stream.Info.BitsPerSample) - 16
	var out []int16
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("flac decode: %w", err)
		}
		channels := len(f.Subframes)
		if channels == 0 {
			continue
		}
		for i := range f.Subframes[0].Samples {
			var sum int64
			for _, sf := range f.Subframes {
				sum += int64(sf.Samples[i])
			}
			s := sum / int64(channels)
			if shift > 0 {
				s >>= shift
			} else if shift < 0 {
				s <<= -shift
			}
			out = append(out, int16(s))
		}
	}
	return out, int(stream.Info.SampleRate), nil
}
