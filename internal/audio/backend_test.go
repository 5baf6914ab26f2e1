package audio

import (
	"testing"

	"github.com/audiolibrelab/callcapture/internal/config"
)

func TestDetermineBackend(t *testing.T) {
	tests := []struct {
		backend  string
		expected BackendType
	}{
		{"", BackendTypeMalgo},
		{"auto", BackendTypeMalgo},
		{"AUTO", BackendTypeMalgo},
		{"malgo", BackendTypeMalgo},
		{"pipewire", BackendType("pipewire")},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Audio.Backend = tt.backend
		if got := determineBackend(cfg); got != tt.expected {
			t.Errorf("determineBackend(%q) = %s, expected %s", tt.backend, got, tt.expected)
		}
	}
}
