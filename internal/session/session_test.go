package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/audiolibrelab/callcapture/internal/audio"
	"github.com/audiolibrelab/callcapture/internal/audio/audiotest"
	"github.com/audiolibrelab/callcapture/internal/config"
	"github.com/audiolibrelab/callcapture/internal/mix"
	"github.com/audiolibrelab/callcapture/internal/session"
)

type fixture struct {
	backend *audiotest.Backend
	ctrl    *session.Controller
	root    string
	out     string
}

func newFixture(t *testing.T, backend *audiotest.Backend, opts session.Options) *fixture {
	t.Helper()
	root := t.TempDir()
	opts.WorkRoot = filepath.Join(root, "work")
	return &fixture{
		backend: backend,
		ctrl:    session.NewController(backend, mix.New(config.Default()), opts),
		root:    root,
		out:     filepath.Join(root, "out", "call.wav"),
	}
}

func callBackend(mics int) *audiotest.Backend {
	lb := audiotest.Loopback(48000, 2)
	b := &audiotest.Backend{Speakers: &lb, Amplitude: 100}
	for i := 0; i < mics; i++ {
		b.Microphones = append(b.Microphones, audiotest.Microphone(string(rune('a'+i)), 16000, 1))
	}
	return b
}

func workFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read working directory: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// waitForFrames blocks until every channel of the session has written audio.
func waitForFrames(t *testing.T, ctrl *session.Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ready := true
		for _, ch := range ctrl.Snapshot().Channels {
			if ch.Frames == 0 {
				ready = false
			}
		}
		if ready {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for captured frames")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestController_OneFilePerOpenedDevice(t *testing.T) {
	backend := callBackend(3)
	backend.FailOpen = map[string]error{"b": errors.New("device busy")}
	f := newFixture(t, backend, session.Options{})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	info := f.ctrl.Snapshot()
	if info.State != session.Active {
		t.Fatalf("Expected Active, got %s", info.State)
	}

	files := workFiles(t, info.WorkDir)
	want := []string{"mic1.wav", "mic3.wav", "speakers.wav"}
	if len(files) != len(want) {
		t.Fatalf("Expected files %v, got %v", want, files)
	}
	for i, name := range want {
		if files[i] != name {
			t.Errorf("Expected %s, got %s", name, files[i])
		}
	}
	if len(info.Channels) != 3 {
		t.Errorf("Expected 3 channels in snapshot, got %d", len(info.Channels))
	}
	waitForFrames(t, f.ctrl)

	report, err := f.ctrl.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if report.Channels != 3 || len(report.OpenErrors) != 1 {
		t.Errorf("Expected 3 channels and 1 open error, got %d/%d", report.Channels, len(report.OpenErrors))
	}
	if !errors.Is(report.OpenErrors[0], audio.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got: %v", report.OpenErrors[0])
	}
}

func TestController_StopWhileIdle(t *testing.T) {
	f := newFixture(t, callBackend(1), session.Options{})

	report, err := f.ctrl.Stop(context.Background())
	if report != nil || err != nil {
		t.Errorf("Expected no-op, got report %+v and error %v", report, err)
	}
	if f.ctrl.State() != session.Idle {
		t.Errorf("Expected Idle, got %s", f.ctrl.State())
	}
	if len(f.backend.Captures()) != 0 {
		t.Error("Expected no device to be touched")
	}
}

func TestController_StartWhileActiveIsRejected(t *testing.T) {
	f := newFixture(t, callBackend(1), session.Options{})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	before := len(f.backend.Captures())

	if err := f.ctrl.Start(f.out); !errors.Is(err, session.ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy, got: %v", err)
	}
	if got := len(f.backend.Captures()); got != before {
		t.Errorf("Expected no new devices opened, had %d now %d", before, got)
	}
	waitForFrames(t, f.ctrl)

	if _, err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestController_DisabledPolicy(t *testing.T) {
	var enabled atomic.Bool
	f := newFixture(t, callBackend(1), session.Options{Enabled: enabled.Load})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Expected silent no-op, got: %v", err)
	}
	if f.ctrl.State() != session.Idle {
		t.Errorf("Expected Idle while disabled, got %s", f.ctrl.State())
	}
	if len(f.backend.Captures()) != 0 {
		t.Error("Expected no devices opened while disabled")
	}

	enabled.Store(true)
	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.ctrl.Active() {
		t.Error("Expected Active once enabled")
	}
	_, _ = f.ctrl.Stop(context.Background())
}

func TestController_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("records for two seconds")
	}
	f := newFixture(t, callBackend(2), session.Options{KeepAlive: true})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	workDir := f.ctrl.Snapshot().WorkDir
	if !f.ctrl.Snapshot().KeepAlive {
		t.Error("Expected keep-alive to run alongside loopback")
	}

	time.Sleep(2 * time.Second)

	report, err := f.ctrl.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !report.Output || len(report.Mix.Mixed) != 3 {
		t.Fatalf("Expected output from 3 sources, got %+v", report.Mix)
	}

	info, err := audiotest.ReadWAV(f.out)
	if err != nil {
		t.Fatalf("Expected a valid output file: %v", err)
	}
	if info.Format.SampleRate != 44100 || info.Format.Channels != 2 || info.Format.BitDepth != 16 {
		t.Errorf("Expected 44100Hz/16bit/2ch, got %s", info.Format)
	}
	if info.Duration < 1700*time.Millisecond || info.Duration > 2500*time.Millisecond {
		t.Errorf("Expected about 2s of audio, got %v", info.Duration)
	}
	// Three sources of amplitude 100 overlap for most of the file.
	if v := info.Samples[len(info.Samples)/2]; v != 300 {
		t.Errorf("Expected summed sample 300 mid-file, got %d", v)
	}

	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("Expected working directory to be removed, stat returned: %v", err)
	}
	for _, p := range f.backend.Playbacks() {
		if p.State() != "closed" {
			t.Errorf("Expected keep-alive playback closed, got %s", p.State())
		}
	}
	for _, c := range f.backend.Captures() {
		if c.State() != "closed" {
			t.Errorf("Expected capture %s closed, got %s", c.Device.ID, c.State())
		}
	}
	if f.ctrl.State() != session.Idle {
		t.Errorf("Expected Idle after Stop, got %s", f.ctrl.State())
	}
}

func TestController_NoDevices(t *testing.T) {
	f := newFixture(t, &audiotest.Backend{}, session.Options{KeepAlive: true})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.ctrl.Active() {
		t.Fatal("Expected Active even without devices")
	}
	workDir := f.ctrl.Snapshot().WorkDir

	report, err := f.ctrl.Stop(context.Background())
	if !errors.Is(err, mix.ErrNoValidSources) {
		t.Errorf("Expected ErrNoValidSources, got: %v", err)
	}
	if report == nil || report.Output {
		t.Errorf("Expected a report without output, got %+v", report)
	}
	if _, err := os.Stat(f.out); !os.IsNotExist(err) {
		t.Error("Expected no output file")
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Error("Expected working directory to be removed after a failed mix")
	}
	if len(f.backend.Playbacks()) != 0 {
		t.Error("Expected no keep-alive without a loopback channel")
	}
}

func TestController_ImmediateStop(t *testing.T) {
	backend := callBackend(2)
	backend.Period = time.Hour
	f := newFixture(t, backend, session.Options{KeepAlive: true})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	workDir := f.ctrl.Snapshot().WorkDir

	report, err := f.ctrl.Stop(context.Background())
	if report == nil {
		t.Fatal("Expected a report")
	}
	if report.Output {
		if _, rerr := audiotest.ReadWAV(f.out); rerr != nil {
			t.Errorf("Expected any output to be well formed: %v", rerr)
		}
	} else {
		if !errors.Is(err, mix.ErrNoValidSources) {
			t.Errorf("Expected ErrNoValidSources without output, got: %v", err)
		}
		if _, serr := os.Stat(f.out); !os.IsNotExist(serr) {
			t.Error("Expected no output file")
		}
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Error("Expected working directory to be removed")
	}
}

func TestController_DeviceLossKeepsSessionGoing(t *testing.T) {
	f := newFixture(t, callBackend(1), session.Options{})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	var mic *audiotest.CaptureStream
	for _, c := range f.backend.Captures() {
		if c.Device.Kind == audio.KindMicrophone {
			mic = c
		}
	}
	mic.Lose()
	time.Sleep(100 * time.Millisecond)

	if !f.ctrl.Active() {
		t.Fatal("Expected the session to stay Active after a device loss")
	}

	report, err := f.ctrl.Stop(context.Background())
	if !errors.Is(err, audio.ErrDeviceLost) {
		t.Errorf("Expected the loss to be reported, got: %v", err)
	}
	if !report.Output || len(report.Mix.Mixed) != 2 {
		t.Errorf("Expected the partial recording to be mixed, got %+v", report.Mix)
	}
}

func TestController_MixFailureStillCleansUp(t *testing.T) {
	f := newFixture(t, callBackend(0), session.Options{})

	if err := f.ctrl.Start(f.out); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// A plain file where the destination directory should be.
	if err := os.MkdirAll(filepath.Dir(filepath.Dir(f.out)), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Dir(f.out), []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}
	workDir := f.ctrl.Snapshot().WorkDir

	report, err := f.ctrl.Stop(context.Background())
	if err == nil {
		t.Fatal("Expected the mix failure to be reported")
	}
	if report.Output {
		t.Error("Expected no output")
	}
	if _, serr := os.Stat(workDir); !os.IsNotExist(serr) {
		t.Error("Expected cleanup to run after a failed mix")
	}
	if f.ctrl.State() != session.Idle {
		t.Errorf("Expected Idle, got %s", f.ctrl.State())
	}
}

func TestMicrophoneFileName(t *testing.T) {
	tests := []struct {
		base string
		n    int
		want string
	}{
		{"mic.wav", 1, "mic1.wav"},
		{"mic.wav", 12, "mic12.wav"},
		{"input.capture.wav", 2, "input.capture2.wav"},
	}
	for _, tt := range tests {
		if got := session.MicrophoneFileName(tt.base, tt.n); got != tt.want {
			t.Errorf("MicrophoneFileName(%q, %d) = %q, expected %q", tt.base, tt.n, got, tt.want)
		}
	}
}
