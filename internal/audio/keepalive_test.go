package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/audiolibrelab/callcapture/internal/audio"
	"github.com/audiolibrelab/callcapture/internal/audio/audiotest"
)

var mixFormat = audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2}

func TestKeepAlive_PlaysSilence(t *testing.T) {
	backend := &audiotest.Backend{}
	ka := audio.NewKeepAlive(backend, mixFormat, nil)

	if err := ka.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := ka.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if !ka.Active() {
		t.Error("Expected keep-alive to be active")
	}

	playbacks := backend.Playbacks()
	if len(playbacks) != 1 {
		t.Fatalf("Expected exactly one playback stream, got %d", len(playbacks))
	}
	waitFor(t, 2*time.Second, func() bool {
		n, _ := playbacks[0].Pulled()
		return n > 0
	})

	if err := ka.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ka.Active() {
		t.Error("Expected keep-alive to be inactive after Stop")
	}
	if state := playbacks[0].State(); state != "closed" {
		t.Errorf("Expected playback to be disposed, got %s", state)
	}
	if _, nonZero := playbacks[0].Pulled(); nonZero {
		t.Error("Expected only silence to be played")
	}

	if err := ka.Stop(); err != nil {
		t.Errorf("Expected Stop on idle injector to be a no-op, got: %v", err)
	}
}

func TestKeepAlive_PlaybackUnavailable(t *testing.T) {
	backend := &audiotest.Backend{FailPlayback: audio.ErrDeviceUnavailable}
	ka := audio.NewKeepAlive(backend, mixFormat, nil)

	if err := ka.Start(); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got: %v", err)
	}
	if ka.Active() {
		t.Error("Expected keep-alive to stay inactive")
	}
}
