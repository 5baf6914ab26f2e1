package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/audiolibrelab/callcapture/internal/audio"
	"github.com/audiolibrelab/callcapture/internal/config"
	"github.com/audiolibrelab/callcapture/internal/mix"
	"github.com/audiolibrelab/callcapture/internal/play"
	"github.com/audiolibrelab/callcapture/internal/session"
)

// Service represents the core CallCapture service interface
type Service interface {
	// Recording operations
	StartRecording(name string) error
	StopRecording(ctx context.Context) (*session.Report, error)
	GetRecordingStatus() (RecordingStatus, *RecordingSession)

	// Mixing operations
	Mix(ctx context.Context, dir, output string) (*mix.Result, error)

	// Playback operations
	Play(ctx context.Context, name string) error

	// Recording policy
	RecordingEnabled() bool
	SetRecordingEnabled(enabled bool) error
	ToggleRecording() (bool, error)
	WatchConfig(ctx context.Context) error

	// Information operations
	Sources() *SourceList
	ResolveOutput(name string) string
	GetConfig() *config.Config
	GetLastError() string
	LastOutput() string

	Close() error
}

// RecordingStatus represents the current recording state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusDisabled  RecordingStatus = "DISABLED"
	StatusStarting  RecordingStatus = "STARTING"
	StatusRecording RecordingStatus = "RECORDING"
	StatusMixing    RecordingStatus = "MIXING"
	StatusError     RecordingStatus = "ERROR"
)

// RecordingSession contains information about the current recording session
type RecordingSession struct {
	Name         string        `json:"name"`
	StartTime    time.Time     `json:"start_time"`
	OutputFile   string        `json:"output_file"`
	ChannelCount int           `json:"channel_count"`
	ChannelNames []string      `json:"channel_names"`
	Channels     []ChannelInfo `json:"channels"`
	KeepAlive    bool          `json:"keep_alive"`
}

// ChannelInfo describes one capture channel of the current session
type ChannelInfo struct {
	Device  string `json:"device"`
	Kind    string `json:"kind"`
	File    string `json:"file"`
	Format  string `json:"format"`
	Frames  uint64 `json:"frames"`
	Running bool   `json:"running"`
}

// SourceInfo describes a capture device
type SourceInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Format  string `json:"format"`
	Default bool   `json:"default"`
}

// SourceList is what a session started now would record from
type SourceList struct {
	Loopback    *SourceInfo  `json:"loopback"`
	Microphones []SourceInfo `json:"microphones"`
}

// CallCaptureService is the main service implementation
type CallCaptureService struct {
	cfg        *config.Config
	configFile string
	backend    audio.Backend
	enum       *audio.Enumerator
	ctrl       *session.Controller
	mixer      *mix.Mixer
	player     *play.Player
	log        *slog.Logger

	enabled atomic.Bool
	name    atomic.Value // string, name of the current session

	// Error tracking
	lastError      string
	lastOutput     string
	lastErrorMutex sync.RWMutex
}

// New creates a new CallCapture service instance
func New(cfg *config.Config, configFile string, backend audio.Backend, logger *slog.Logger) *CallCaptureService {
	if logger == nil {
		logger = slog.Default()
	}

	mixer := mix.New(cfg).WithLogger(logger)
	mixRate, mixChannels := cfg.MixFormat()

	s := &CallCaptureService{
		cfg:        cfg,
		configFile: configFile,
		backend:    backend,
		enum:       audio.NewEnumerator(backend, logger),
		mixer:      mixer,
		player:     play.New(backend, logger),
		log:        logger,
	}
	s.enabled.Store(cfg.Recording.Enabled)
	s.name.Store("")

	s.ctrl = session.NewController(backend, mixer, session.Options{
		WorkRoot:     cfg.Output.WorkDirectory,
		LoopbackFile: cfg.Audio.LoopbackFile,
		MicFile:      cfg.Audio.MicFile,
		KeepAlive:    cfg.Recording.KeepAlive,
		KeepAliveFormat: audio.Format{
			SampleRate: mixRate,
			BitDepth:   audio.InterchangeBitDepth,
			Channels:   mixChannels,
		},
		Enabled: s.enabled.Load,
		Logger:  logger,
	})
	return s
}

var _ Service = (*CallCaptureService)(nil)

// StartRecording starts a session whose mix is written to ResolveOutput(name).
// It does nothing while recording is disabled.
func (s *CallCaptureService) StartRecording(name string) error {
	s.log.Debug("Service.StartRecording called", "name", name)
	s.clearLastError() // Clear any previous errors when starting a new operation

	output := s.ResolveOutput(name)
	if err := s.ctrl.Start(output); err != nil {
		s.log.Error("Service.StartRecording failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	if s.ctrl.Active() {
		s.name.Store(name)
	}
	return nil
}

// StopRecording stops the current session and mixes it. Failures of
// individual teardown steps are recorded as the last error; the report is
// returned either way.
func (s *CallCaptureService) StopRecording(ctx context.Context) (*session.Report, error) {
	report, err := s.ctrl.Stop(ctx)
	s.name.Store("")
	if report == nil && err == nil {
		return nil, nil
	}

	if report != nil && report.Output {
		s.lastErrorMutex.Lock()
		s.lastOutput = report.Destination
		s.lastErrorMutex.Unlock()
	}
	if err != nil {
		s.setLastError(fmt.Sprintf("Recording stopped with errors: %v", err))
	} else {
		s.clearLastError() // Clear error on successful stop
	}
	return report, err
}

// GetRecordingStatus returns the current recording status and session info
func (s *CallCaptureService) GetRecordingStatus() (RecordingStatus, *RecordingSession) {
	info := s.ctrl.Snapshot()

	var status RecordingStatus
	switch info.State {
	case session.Starting:
		status = StatusStarting
	case session.Active:
		status = StatusRecording
	case session.Stopping:
		status = StatusMixing
	default:
		switch {
		case s.GetLastError() != "":
			status = StatusError
		case !s.RecordingEnabled():
			status = StatusDisabled
		default:
			status = StatusStandby
		}
	}

	if info.State == session.Idle {
		return status, nil
	}

	sess := &RecordingSession{
		Name:         s.name.Load().(string),
		StartTime:    info.StartTime,
		OutputFile:   info.Destination,
		ChannelCount: len(info.Channels),
		KeepAlive:    info.KeepAlive,
	}
	for _, ch := range info.Channels {
		sess.ChannelNames = append(sess.ChannelNames, ch.Device)
		sess.Channels = append(sess.Channels, ChannelInfo{
			Device:  ch.Device,
			Kind:    ch.Kind,
			File:    ch.File,
			Format:  ch.Format,
			Frames:  ch.Frames,
			Running: ch.Running,
		})
	}
	return status, sess
}

// Mix mixes every file of dir into output with the configured mix format
func (s *CallCaptureService) Mix(ctx context.Context, dir, output string) (*mix.Result, error) {
	inputs, err := mix.Discover(dir)
	if err != nil {
		return nil, err
	}
	return s.mixer.Mix(ctx, mix.Job{Inputs: inputs, Output: s.ResolveOutput(output)})
}

// Play plays a recording by name or path
func (s *CallCaptureService) Play(ctx context.Context, name string) error {
	return s.player.Play(ctx, s.ResolveOutput(name))
}

// RecordingEnabled reports whether Start will record.
func (s *CallCaptureService) RecordingEnabled() bool {
	return s.enabled.Load()
}

// SetRecordingEnabled changes the recording policy and persists it.
func (s *CallCaptureService) SetRecordingEnabled(enabled bool) error {
	s.enabled.Store(enabled)
	s.log.Info("Recording policy changed", "enabled", enabled)
	if s.configFile == "" {
		return nil
	}
	if err := config.SetRecordingEnabled(s.configFile, enabled); err != nil {
		return fmt.Errorf("failed to persist recording policy: %w", err)
	}
	return nil
}

// ToggleRecording flips the recording policy and returns the new value.
func (s *CallCaptureService) ToggleRecording() (bool, error) {
	enabled := !s.enabled.Load()
	return enabled, s.SetRecordingEnabled(enabled)
}

// WatchConfig follows edits of the config file and applies the recording
// policy from it. It blocks until ctx is done.
func (s *CallCaptureService) WatchConfig(ctx context.Context) error {
	if s.configFile == "" {
		return errors.New("no config file to watch")
	}
	return config.Watch(ctx, s.configFile, s.log, func(cfg *config.Config) {
		if s.enabled.Swap(cfg.Recording.Enabled) != cfg.Recording.Enabled {
			s.log.Info("Recording policy reloaded", "enabled", cfg.Recording.Enabled)
		}
	})
}

// Sources lists the devices a session started now would open.
func (s *CallCaptureService) Sources() *SourceList {
	list := &SourceList{}
	if dev, ok := s.enum.DefaultLoopbackDevice(); ok {
		info := sourceInfo(dev)
		list.Loopback = &info
	}
	for dev := range s.enum.ListInputDevices() {
		list.Microphones = append(list.Microphones, sourceInfo(dev))
	}
	return list
}

func sourceInfo(dev audio.Device) SourceInfo {
	return SourceInfo{
		ID:      dev.ID,
		Name:    dev.Name,
		Kind:    dev.Kind.String(),
		Format:  dev.Format.String(),
		Default: dev.IsDefault,
	}
}

// ResolveOutput maps a session name to the deliverable path. Plain names
// are cleaned and placed in the output directory as .wav files; paths are
// kept, gaining ".wav" when they have no extension.
func (s *CallCaptureService) ResolveOutput(name string) string {
	if strings.ContainsAny(name, `/\`) {
		if filepath.Ext(name) == "" {
			return name + ".wav"
		}
		return name
	}

	base := name
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".wav") {
		base = strings.TrimSuffix(name, ext)
	}
	clean := CleanName(base)
	if clean == "" {
		clean = "call-" + time.Now().Format("20060102-150405")
	}
	return filepath.Join(s.cfg.Output.Directory, clean+".wav")
}

// GetConfig returns the current configuration
func (s *CallCaptureService) GetConfig() *config.Config {
	return s.cfg
}

// Close stops any session in progress and releases the audio backend.
func (s *CallCaptureService) Close() error {
	var err error
	if s.ctrl.State() != session.Idle {
		_, err = s.StopRecording(context.Background())
	}
	err = multierr.Append(err, s.backend.Close())
	return err
}

// Helper functions

// CleanName removes special characters and replaces spaces with underscores.
// Allows letters, numbers, spaces, hyphens and underscores.
func CleanName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// GetLastError returns the last error message (thread-safe)
func (s *CallCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// LastOutput returns the deliverable of the last session that produced one.
func (s *CallCaptureService) LastOutput() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastOutput
}

// setLastError sets the last error message (thread-safe)
func (s *CallCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	s.log.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *CallCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
