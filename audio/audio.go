// Package audio talks to the platform's capture devices. Backends deliver
// 16-bit little-endian mono PCM through a DataCallback.
package audio

import (
	"errors"
	"slices"
	"strings"
	"unicode"
)

const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	WAVHeaderSize  = 44
)

var (
	// ErrPermissionDenied means the platform refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrNoDevice means no usable input device could be opened.
	ErrNoDevice = errors.New("no usable input device")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth",
}

// IsBluetooth guesses from the device name whether it is a headset running
// the low-bandwidth bluetooth profile.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return slices.Contains(tokens, "bt")
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice is one open input stream. Stop halts delivery and must be
// safe to call more than once; Close releases the underlying hardware.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

var deniedMarkers = []string{"denied", "permission", "not permitted", "not authorized"}

// classify maps a backend failure onto ErrPermissionDenied or ErrNoDevice,
// keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDevice) {
		return err
	}
	lower := strings.ToLower(err.Error())
	for _, m := range deniedMarkers {
		if strings.Contains(lower, m) {
			return errors.Join(ErrPermissionDenied, err)
		}
	}
	return errors.Join(ErrNoDevice, err)
}
