package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"parley/audio"
	"parley/encoder"
)

// oneSecond is one second of 16 kHz mono 16-bit PCM.
var oneSecond = make([]byte, audio.SampleRate*audio.BytesPerSample)

func newAcquirer(t *testing.T) (*Acquirer, *audio.FakeContext) {
	t.Helper()
	fake := audio.NewFakeContext()
	return NewAcquirer(fake, Config{Formats: []encoder.Format{encoder.FormatWAV}}), fake
}

func TestAcquireStopRelease(t *testing.T) {
	acq, fake := newAcquirer(t)

	rec, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	dev := fake.Last()
	if !dev.Started() {
		t.Fatal("device not started")
	}
	for i := 0; i < 3; i++ {
		if !dev.Emit(oneSecond) {
			t.Fatalf("chunk %d not delivered", i)
		}
	}

	payload, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if payload.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", payload.Chunks)
	}
	if payload.Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", payload.Duration)
	}
	if payload.MimeType != "audio/wav" || payload.Extension != "wav" {
		t.Errorf("descriptor = %s/%s", payload.MimeType, payload.Extension)
	}
	if want := 44 + 3*len(oneSecond); len(payload.Data) != want {
		t.Errorf("payload size = %d, want %d", len(payload.Data), want)
	}
	if rec.AppendChunk(oneSecond) {
		t.Error("AppendChunk accepted audio after Stop")
	}

	again, err := rec.Stop()
	if err != nil || again.Chunks != payload.Chunks {
		t.Errorf("second Stop = %+v, %v", again, err)
	}

	rec.Release()
	rec.Release()
	if fake.LiveCaptures() != 0 {
		t.Error("device still live after Release")
	}
	if n := dev.CloseCalls(); n != 1 {
		t.Errorf("device closed %d times, want 1", n)
	}
}

func TestReleaseWithoutStopDiscards(t *testing.T) {
	acq, fake := newAcquirer(t)
	rec, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fake.Last().Emit(oneSecond)

	rec.Release()
	if rec.Chunks() != 0 {
		t.Errorf("Chunks = %d after discard, want 0", rec.Chunks())
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrReleased) {
		t.Errorf("Stop after Release = %v, want ErrReleased", err)
	}
	if fake.LiveCaptures() != 0 {
		t.Error("device still live after Release")
	}
}

func TestStopWithoutAudio(t *testing.T) {
	acq, _ := newAcquirer(t)
	rec, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()
	if _, err := rec.Stop(); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Stop = %v, want ErrNoAudio", err)
	}
}

func TestAcquireFailures(t *testing.T) {
	for _, tt := range []struct {
		name    string
		setup   func(*audio.FakeContext)
		want    error
		created int
	}{
		{
			name:    "permission denied on start",
			setup:   func(f *audio.FakeContext) { f.FailStart(audio.ErrPermissionDenied) },
			want:    ErrPermissionDenied,
			created: 1,
		},
		{
			name:  "device open fails",
			setup: func(f *audio.FakeContext) { f.FailNewCapture(errors.New("no such device")) },
			want:  ErrDeviceUnavailable,
		},
		{
			name:    "start fails with backend error",
			setup:   func(f *audio.FakeContext) { f.FailStart(errors.New("stream busy")) },
			want:    ErrDeviceUnavailable,
			created: 1,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			acq, fake := newAcquirer(t)
			tt.setup(fake)

			rec, err := acq.Acquire(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Acquire error = %v, want %v", err, tt.want)
			}
			if rec != nil {
				t.Error("Acquire returned a recording on failure")
			}
			if got := len(fake.Captures()); got != tt.created {
				t.Errorf("captures created = %d, want %d", got, tt.created)
			}
			if fake.LiveCaptures() != 0 {
				t.Error("a device was left open after a failed acquire")
			}
		})
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	acq, fake := newAcquirer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := acq.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire = %v, want context.Canceled", err)
	}
	if len(fake.Captures()) != 0 {
		t.Error("device opened for a cancelled acquire")
	}
}

func TestAcquireUnknownFormat(t *testing.T) {
	fake := audio.NewFakeContext()
	acq := NewAcquirer(fake, Config{Formats: []encoder.Format{"ogg"}})
	if _, err := acq.Acquire(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Acquire = %v, want ErrDeviceUnavailable", err)
	}
}

func TestAppendChunkReusedBuffer(t *testing.T) {
	acq, _ := newAcquirer(t)
	rec, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	buf := make([]byte, 8*audio.BytesPerSample)
	for _, v := range []int16{7, -7} {
		for i := 0; i < len(buf); i += audio.BytesPerSample {
			binary.LittleEndian.PutUint16(buf[i:], uint16(v))
		}
		if !rec.AppendChunk(buf) {
			t.Fatal("AppendChunk rejected a live chunk")
		}
	}
	if rec.Chunks() != 2 {
		t.Errorf("Chunks = %d, want 2", rec.Chunks())
	}

	payload, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if payload.Chunks != 2 {
		t.Errorf("payload Chunks = %d, want 2", payload.Chunks)
	}
	pcm := payload.Data[44:]
	if len(pcm) != 2*len(buf) {
		t.Fatalf("pcm size = %d, want %d", len(pcm), 2*len(buf))
	}
	first := int16(binary.LittleEndian.Uint16(pcm[0:]))
	last := int16(binary.LittleEndian.Uint16(pcm[len(pcm)-2:]))
	if first != 7 || last != -7 {
		t.Errorf("samples = %d..%d, want 7..-7", first, last)
	}
}
