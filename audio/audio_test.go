package audio

import (
	"errors"
	"testing"
)

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Jabra Evolve2 65", true},
		{"Built-in Microphone", false},
		{"alsa_input.pci-0000_00_1f.3.analog-stereo", false},
		{"Headset (BT)", true},
		{"Car Kit [BT]", true},
		{"bt-headset", true},
		{"Subtle Mic", false},
		{"USB Audio Device", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBluetooth(tt.name); got != tt.want {
				t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want error
	}{
		{errors.New("pulse record: Access denied"), ErrPermissionDenied},
		{errors.New("kAudioHardwareNotRunning: not authorized"), ErrPermissionDenied},
		{errors.New("pulse: dial unix /run/user/1000/pulse/native: no such file"), ErrNoDevice},
		{ErrPermissionDenied, ErrPermissionDenied},
	} {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classify(%v) dropped the cause", tt.err)
			}
		})
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
