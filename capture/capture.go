// Package capture acquires the microphone for one recording and turns what it
// hears into a single upload payload.
package capture

import (
	"context"
	"errors"
	"fmt"

	"parley/audio"
	"parley/encoder"
	"parley/log"
)

var (
	ErrPermissionDenied  = audio.ErrPermissionDenied
	ErrDeviceUnavailable = audio.ErrNoDevice
)

// Config selects the input device and the container preference order.
type Config struct {
	Device  *audio.DeviceInfo
	Formats []encoder.Format
}

// Acquirer opens recordings on an audio context.
type Acquirer struct {
	audio audio.Context
	cfg   Config
}

func NewAcquirer(ctx audio.Context, cfg Config) *Acquirer {
	return &Acquirer{audio: ctx, cfg: cfg}
}

// Acquire opens and starts the input device. Failures are reported as
// ErrPermissionDenied or ErrDeviceUnavailable; nothing stays open on error.
func (a *Acquirer) Acquire(ctx context.Context) (*Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc, err := encoder.New(a.cfg.Formats)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	dev, err := a.audio.NewCapture(a.cfg.Device, audio.DefaultCaptureConfig())
	if err != nil {
		return nil, normalize(err)
	}

	rec := newRecording(dev, enc)
	dev.SetCallback(func(data []byte, _ uint32) {
		rec.AppendChunk(data)
	})

	if err := dev.Start(); err != nil {
		rec.Release()
		return nil, normalize(err)
	}

	if err := ctx.Err(); err != nil {
		rec.Release()
		return nil, err
	}

	log.Info("capture_acquired device=" + dev.DeviceName() + " format=" + string(enc.Format()))
	return rec, nil
}

func normalize(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}
