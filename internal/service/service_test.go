package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/callcapture/internal/audio"
	"github.com/audiolibrelab/callcapture/internal/audio/audiotest"
	"github.com/audiolibrelab/callcapture/internal/config"
)

func newTestService(t *testing.T, configFile string) (*CallCaptureService, *audiotest.Backend) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Output.Directory = filepath.Join(dir, "out")
	cfg.Output.WorkDirectory = filepath.Join(dir, "work")

	lb := audiotest.Loopback(48000, 2)
	backend := &audiotest.Backend{
		Speakers:    &lb,
		Microphones: []audio.Device{audiotest.Microphone("a", 16000, 1)},
		Amplitude:   100,
	}
	return New(cfg, configFile, backend, nil), backend
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Standup Call", "Standup_Call"},
		{"team/sync:*", "teamsync"},
		{"  padded  ", "padded"},
		{"a-b_c", "a-b_c"},
		{"???", ""},
	}

	for _, tt := range tests {
		if got := CleanName(tt.input); got != tt.expected {
			t.Errorf("CleanName(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestResolveOutput(t *testing.T) {
	svc, _ := newTestService(t, "")
	outDir := svc.GetConfig().Output.Directory

	tests := []struct {
		name     string
		expected string
	}{
		{"standup", filepath.Join(outDir, "standup.wav")},
		{"standup.wav", filepath.Join(outDir, "standup.wav")},
		{"Team Sync", filepath.Join(outDir, "Team_Sync.wav")},
		{"/tmp/calls/one", "/tmp/calls/one.wav"},
		{"/tmp/calls/one.wav", "/tmp/calls/one.wav"},
	}

	for _, tt := range tests {
		if got := svc.ResolveOutput(tt.name); got != tt.expected {
			t.Errorf("ResolveOutput(%q) = %q, expected %q", tt.name, got, tt.expected)
		}
	}

	generated := svc.ResolveOutput("")
	if filepath.Dir(generated) != outDir || !strings.HasPrefix(filepath.Base(generated), "call-") {
		t.Errorf("Expected a generated name in %s, got %s", outDir, generated)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	svc, backend := newTestService(t, "")

	if status, sess := svc.GetRecordingStatus(); status != StatusStandby || sess != nil {
		t.Fatalf("Expected STANDBY without session, got %s %+v", status, sess)
	}

	if err := svc.StartRecording("weekly"); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	status, sess := svc.GetRecordingStatus()
	if status != StatusRecording {
		t.Fatalf("Expected RECORDING, got %s", status)
	}
	if sess.Name != "weekly" || sess.ChannelCount != 2 || !sess.KeepAlive {
		t.Errorf("Unexpected session info: %+v", sess)
	}

	time.Sleep(200 * time.Millisecond)

	report, err := svc.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	want := filepath.Join(svc.GetConfig().Output.Directory, "weekly.wav")
	if !report.Output || report.Destination != want {
		t.Errorf("Expected output at %s, got %+v", want, report)
	}
	if svc.LastOutput() != want {
		t.Errorf("Expected last output %s, got %s", want, svc.LastOutput())
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("Expected mixed file: %v", err)
	}
	if status, _ := svc.GetRecordingStatus(); status != StatusStandby {
		t.Errorf("Expected STANDBY after stop, got %s", status)
	}

	if err := svc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	for _, c := range backend.Captures() {
		if c.State() != "closed" {
			t.Errorf("Expected capture closed, got %s", c.State())
		}
	}
}

func TestStopWithoutSession(t *testing.T) {
	svc, _ := newTestService(t, "")

	report, err := svc.StopRecording(context.Background())
	if report != nil || err != nil {
		t.Errorf("Expected no-op, got %+v, %v", report, err)
	}
}

func TestToggleRecording_Persists(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "callcapture.yaml")
	svc, backend := newTestService(t, configFile)

	enabled, err := svc.ToggleRecording()
	if err != nil {
		t.Fatalf("ToggleRecording failed: %v", err)
	}
	if enabled || svc.RecordingEnabled() {
		t.Fatal("Expected recording to be disabled")
	}
	if status, _ := svc.GetRecordingStatus(); status != StatusDisabled {
		t.Errorf("Expected DISABLED, got %s", status)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load persisted config: %v", err)
	}
	if cfg.Recording.Enabled {
		t.Error("Expected the disabled policy to be persisted")
	}

	if err := svc.StartRecording("ignored"); err != nil {
		t.Fatalf("Expected start to be a no-op while disabled, got: %v", err)
	}
	if len(backend.Captures()) != 0 {
		t.Error("Expected no devices opened while disabled")
	}

	if enabled, err := svc.ToggleRecording(); err != nil || !enabled {
		t.Errorf("Expected recording to be enabled again, got %v, %v", enabled, err)
	}
}

func TestSources(t *testing.T) {
	svc, _ := newTestService(t, "")

	list := svc.Sources()
	if list.Loopback == nil || list.Loopback.Kind != "loopback" {
		t.Fatalf("Expected a loopback source, got %+v", list.Loopback)
	}
	if len(list.Microphones) != 1 || list.Microphones[0].ID != "a" {
		t.Errorf("Expected one microphone, got %+v", list.Microphones)
	}
}

func TestMix_Directory(t *testing.T) {
	svc, _ := newTestService(t, "")
	dir := t.TempDir()
	audiotest.WriteWAV(t, filepath.Join(dir, "one.wav"), audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2}, 4410, 100)
	audiotest.WriteWAV(t, filepath.Join(dir, "two.wav"), audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 1}, 4410, 50)

	res, err := svc.Mix(context.Background(), dir, "offline")
	if err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	if len(res.Mixed) != 2 || res.Frames != 4410 {
		t.Errorf("Expected 2 sources and 4410 frames, got %d and %d", len(res.Mixed), res.Frames)
	}

	info, err := audiotest.ReadWAV(res.Output)
	if err != nil {
		t.Fatalf("Failed to read mix: %v", err)
	}
	if info.Samples[0] != 150 {
		t.Errorf("Expected summed sample 150, got %d", info.Samples[0])
	}
}
