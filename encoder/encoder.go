// Package encoder packs captured PCM into an upload container. FLAC is
// preferred; WAV is the fallback every scoring backend accepts.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Format string

const (
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
)

// MimeType is the content type an upload in this format is sent with.
func (f Format) MimeType() string { return "audio/" + string(f) }

// Extension is the file extension, without the dot.
func (f Format) Extension() string { return string(f) }

// DefaultFormats is the preference order used when none is configured.
var DefaultFormats = []Format{FormatFLAC, FormatWAV}

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	Format() Format
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// stats is the frame count and encode time every encoder reports. Encoders
// guard their own state with mu as well.
type stats struct {
	mu         sync.Mutex
	frames     uint64
	encodeTime time.Duration
}

func (s *stats) TotalFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *stats) AddEncodeTime(d time.Duration) {
	s.mu.Lock()
	s.encodeTime += d
	s.mu.Unlock()
}

func (s *stats) EncodeTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodeTime
}

var constructors = map[Format]func() (Encoder, error){
	FormatFLAC: func() (Encoder, error) { return NewFlac() },
	FormatWAV:  func() (Encoder, error) { return NewWav(), nil },
}

// New returns an encoder for the first format in preference order that can
// be constructed.
func New(preference []Format) (Encoder, error) {
	if len(preference) == 0 {
		preference = DefaultFormats
	}
	var errs []error
	for _, f := range preference {
		ctor, ok := constructors[f]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown format %q", f))
			continue
		}
		enc, err := ctor()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		return enc, nil
	}
	return nil, fmt.Errorf("no usable audio format: %w", errors.Join(errs...))
}

// ParseFormat accepts the names used in configuration files.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatFLAC, FormatWAV:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}
