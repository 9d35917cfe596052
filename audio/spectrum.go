package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	FFTSize     = 256
	BinCount    = FFTSize / 2
	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8
)

// Analyser keeps the most recent FFTSize samples of a live stream and turns
// them into a byte-scaled magnitude spectrum, one value per bin in [0,255].
type Analyser struct {
	mu       sync.Mutex
	ring     []float64
	pos      int
	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

func NewAnalyser() *Analyser {
	window := make([]float64, FFTSize)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(FFTSize)))
	}
	return &Analyser{
		ring:     make([]float64, FFTSize),
		fft:      fourier.NewFFT(FFTSize),
		window:   window,
		frame:    make([]float64, FFTSize),
		smoothed: make([]float64, BinCount),
	}
}

// Write appends 16-bit little-endian PCM samples.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		a.ring[a.pos] = float64(s) / 32768.0
		a.pos = (a.pos + 1) % FFTSize
	}
}

// FrequencyData fills dst with BinCount byte-scaled magnitudes and returns
// it, allocating when dst is too short.
func (a *Analyser) FrequencyData(dst []uint8) []uint8 {
	if cap(dst) < BinCount {
		dst = make([]uint8, BinCount)
	}
	dst = dst[:BinCount]

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < FFTSize; i++ {
		a.frame[i] = a.ring[(a.pos+i)%FFTSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	for k := 0; k < BinCount; k++ {
		c := a.coeffs[k]
		mag := math.Hypot(real(c), imag(c)) / FFTSize
		a.smoothed[k] = smoothing*a.smoothed[k] + (1-smoothing)*mag
		dst[k] = toByte(a.smoothed[k])
	}
	return dst
}

func toByte(mag float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	}
	return uint8(scaled)
}
