package audio

import (
	"errors"
	"testing"
)

func TestIsMonitorSource(t *testing.T) {
	cases := map[string]bool{
		"Monitor of Built-in Audio Analog Stereo": true,
		"monitor of HDMI":                         true,
		"Built-in Audio Analog Stereo":            false,
		"USB Microphone (Monitor)":                false,
		"":                                        false,
	}
	for name, want := range cases {
		if got := isMonitorSource(name); got != want {
			t.Errorf("isMonitorSource(%q) = %v, expected %v", name, got, want)
		}
	}
}

func TestPickDefault(t *testing.T) {
	if _, err := pickDefault(nil); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable for no devices, got: %v", err)
	}

	devices := []Device{{ID: "a"}, {ID: "b", IsDefault: true}, {ID: "c"}}
	got, err := pickDefault(devices)
	if err != nil || got.ID != "b" {
		t.Errorf("Expected default device b, got %+v (err %v)", got, err)
	}

	got, err = pickDefault(devices[:1])
	if err != nil || got.ID != "a" {
		t.Errorf("Expected fallback to first device, got %+v (err %v)", got, err)
	}
}

func TestFormat(t *testing.T) {
	f := Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	if !f.Valid() {
		t.Errorf("Expected %s to be valid", f)
	}
	if f.BytesPerFrame() != 4 {
		t.Errorf("Expected 4 bytes per frame, got %d", f.BytesPerFrame())
	}
	if f.String() != "48000Hz/16bit/2ch" {
		t.Errorf("Unexpected string %q", f.String())
	}
	if (Format{SampleRate: 48000, BitDepth: 12, Channels: 2}).Valid() {
		t.Error("Expected 12-bit format to be invalid")
	}
	if (Format{}).Valid() {
		t.Error("Expected zero format to be invalid")
	}
}
