package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/callcapture/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo BackendType = "malgo"
	BackendTypeAuto  BackendType = "auto"
)

// DataFunc receives interleaved signed 16-bit little-endian frames. It runs
// on the driver thread of the device and must not retain samples.
type DataFunc func(samples []byte, frameCount uint32)

// FillFunc must fill out completely with interleaved signed 16-bit
// little-endian frames.
type FillFunc func(out []byte, frameCount uint32)

// Stream is an initialised device. Stop must not return while a data
// callback is still executing.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	// CaptureDevices lists microphone inputs present right now.
	CaptureDevices() ([]Device, error)

	// LoopbackDevice returns the device carrying what the user hears.
	LoopbackDevice() (Device, error)

	// OpenCapture initialises dev with 16-bit samples at its native rate
	// and channel count, returning the negotiated format. onStop may be
	// nil; it is invoked whenever the driver stops the device.
	OpenCapture(dev Device, onData DataFunc, onStop func()) (Stream, Format, error)

	// OpenPlayback initialises the default render device.
	OpenPlayback(format Format, fill FillFunc) (Stream, error)

	// Get the backend type
	GetType() BackendType

	Close() error
}

// NewBackend creates a backend based on configuration
func NewBackend(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch determineBackend(cfg) {
	case BackendTypeMalgo:
		b, err := newMalgoBackend(cfg.Audio.PeriodMS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize malgo backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", cfg.Audio.Backend)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	if cfg == nil || cfg.Audio.Backend == "" {
		return BackendTypeMalgo
	}

	switch strings.ToLower(cfg.Audio.Backend) {
	case string(BackendTypeMalgo), string(BackendTypeAuto):
		return BackendTypeMalgo
	}

	return BackendType(cfg.Audio.Backend)
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeMalgo}
}
