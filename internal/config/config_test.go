package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got error: %v", err)
	}

	def := Default()
	if cfg.Audio.MixSampleRate != def.Audio.MixSampleRate || cfg.Audio.MixChannels != def.Audio.MixChannels {
		t.Errorf("Expected mix format %d/%d, got %d/%d",
			def.Audio.MixSampleRate, def.Audio.MixChannels, cfg.Audio.MixSampleRate, cfg.Audio.MixChannels)
	}
	if !cfg.Recording.Enabled {
		t.Error("Expected recording to be enabled by default")
	}
	if cfg.Audio.LoopbackFile != "speakers.wav" || cfg.Audio.MicFile != "mic.wav" {
		t.Errorf("Unexpected file names %q/%q", cfg.Audio.LoopbackFile, cfg.Audio.MicFile)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Expected error for empty config path")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	configFile := createTempConfig(t, `
recording:
  enabled: false
  keep_alive: false
audio:
  mix_sample_rate: 48000
  mix_channels: 1
output:
  directory: ~/Calls
  work_directory: /tmp/cc-work
`)

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Recording.Enabled || cfg.Recording.KeepAlive {
		t.Errorf("Expected recording flags to be false, got %+v", cfg.Recording)
	}
	if cfg.Audio.MixSampleRate != 48000 || cfg.Audio.MixChannels != 1 {
		t.Errorf("Expected 48000/1, got %d/%d", cfg.Audio.MixSampleRate, cfg.Audio.MixChannels)
	}
	// Untouched keys keep their defaults.
	if cfg.Audio.Backend != "auto" {
		t.Errorf("Expected backend 'auto', got %s", cfg.Audio.Backend)
	}

	homeDir, _ := os.UserHomeDir()
	if cfg.Output.Directory != filepath.Join(homeDir, "Calls") {
		t.Errorf("Expected expanded directory, got %s", cfg.Output.Directory)
	}
	if cfg.Output.WorkDirectory != "/tmp/cc-work" {
		t.Errorf("Expected work directory '/tmp/cc-work', got %s", cfg.Output.WorkDirectory)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CALLCAPTURE_AUDIO_MIX_SAMPLE_RATE", "22050")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Audio.MixSampleRate != 22050 {
		t.Errorf("Expected env override 22050, got %d", cfg.Audio.MixSampleRate)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := createTempConfig(t, "audio: [unterminated\n")

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "callcapture.yaml")

	cfg := Default()
	cfg.Audio.MixSampleRate = 32000
	cfg.Server.Listen = "0.0.0.0:9090"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Audio.MixSampleRate != 32000 {
		t.Errorf("Expected sample rate 32000, got %d", loaded.Audio.MixSampleRate)
	}
	if loaded.Server.Listen != "0.0.0.0:9090" {
		t.Errorf("Expected listen address '0.0.0.0:9090', got %s", loaded.Server.Listen)
	}
}

func TestSetRecordingEnabled(t *testing.T) {
	configFile := createTempConfig(t, `
recording:
  enabled: true
audio:
  mix_sample_rate: 48000
`)

	if err := SetRecordingEnabled(configFile, false); err != nil {
		t.Fatalf("SetRecordingEnabled failed: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to reload configuration: %v", err)
	}
	if cfg.Recording.Enabled {
		t.Error("Expected recording to be disabled")
	}
	if cfg.Audio.MixSampleRate != 48000 {
		t.Errorf("Expected other settings to survive, got sample rate %d", cfg.Audio.MixSampleRate)
	}
}

func TestSetRecordingEnabled_CreatesFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "callcapture.yaml")

	if err := SetRecordingEnabled(configFile, false); err != nil {
		t.Fatalf("SetRecordingEnabled failed: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load created configuration: %v", err)
	}
	if cfg.Recording.Enabled {
		t.Error("Expected recording to be disabled")
	}
}

func TestExpandPath(t *testing.T) {
	// Test tilde expansion
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/CallCapture", filepath.Join(homeDir, "Audio", "CallCapture")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"}, // Should not expand bare tilde
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callcapture.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}
