//go:build !linux

package playback

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoOutput struct {
	ctx *malgo.AllocatedContext
	mu  sync.Mutex
}

// NewOutput returns a miniaudio output. Plays are serialized.
func NewOutput() (Output, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoOutput{ctx: ctx}, nil
}

func (o *malgoOutput) Play(ctx context.Context, samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	var pos atomic.Uint32
	done := make(chan struct{})
	var doneOnce sync.Once

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			p := pos.Load()
			total := uint32(len(buf))
			n := min(frameCount*2, total-p)
			copy(pOutput[:n], buf[p:p+n])
			// Zero-fill remainder
			for i := n; i < uint32(len(pOutput)); i++ {
				pOutput[i] = 0
			}
			pos.Store(p + n)
			if p+n >= total {
				doneOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(o.ctx.Context, config, callbacks)
	if err != nil {
		return err
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	device.Stop()
	return nil
}

func (o *malgoOutput) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil {
		o.ctx.Uninit()
		o.ctx.Free()
		o.ctx = nil
	}
}
