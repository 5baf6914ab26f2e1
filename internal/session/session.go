// Package session runs one capture session at a time: it opens a channel
// per device, keeps loopback alive, and on stop tears everything down in
// order and mixes the recordings into a single file.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/callcapture/internal/audio"
	"github.com/audiolibrelab/callcapture/internal/mix"
)

var (
	// ErrSessionBusy rejects Start outside Idle.
	ErrSessionBusy = errors.New("a session is already in progress")
	// ErrCleanup reports that the working directory could not be removed.
	ErrCleanup = errors.New("working directory cleanup failed")
)

// State of the controller.
type State int

const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Options configure a Controller.
type Options struct {
	// WorkRoot is where per-session working directories are created.
	WorkRoot string
	// LoopbackFile names the loopback recording, e.g. "speakers.wav".
	LoopbackFile string
	// MicFile is the base name of microphone recordings; "mic.wav" yields
	// mic1.wav, mic2.wav and so on.
	MicFile string
	// KeepAlive plays silence while a loopback channel records.
	KeepAlive bool
	// KeepAliveFormat is the format of the injected silence.
	KeepAliveFormat audio.Format
	// Enabled is consulted on every Start; nil means always enabled.
	Enabled func() bool
	Logger  *slog.Logger
}

// Info is a snapshot of the current session.
type Info struct {
	State       State
	Destination string
	WorkDir     string
	StartTime   time.Time
	Channels    []ChannelInfo
	KeepAlive   bool
}

type ChannelInfo struct {
	Device  string
	Kind    string
	File    string
	Format  string
	Frames  uint64
	Running bool
}

// Report describes a finished session.
type Report struct {
	Destination string
	WorkDir     string
	Duration    time.Duration // wall-clock length of the session
	Channels    int           // channels that opened
	OpenErrors  []error       // channels that could not be opened
	Mix         *mix.Result
	Output      bool // whether the destination file was written
}

// Controller orchestrates capture channels, the keep-alive injector and the
// mixer for one session at a time.
type Controller struct {
	backend audio.Backend
	enum    *audio.Enumerator
	mixer   *mix.Mixer
	opts    Options
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	transition chan struct{} // closed when Starting or Stopping ends
	current    *capture
}

// capture is the state of one running session.
type capture struct {
	destination string
	workDir     string
	start       time.Time
	channels    []*audio.Channel
	openErrors  []error
	keepAlive   *audio.KeepAlive
}

func NewController(backend audio.Backend, mixer *mix.Mixer, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LoopbackFile == "" {
		opts.LoopbackFile = "speakers.wav"
	}
	if opts.MicFile == "" {
		opts.MicFile = "mic.wav"
	}
	if opts.WorkRoot == "" {
		opts.WorkRoot = filepath.Join(os.TempDir(), "callcapture")
	}
	if !opts.KeepAliveFormat.Valid() {
		opts.KeepAliveFormat = audio.Format{SampleRate: 44100, BitDepth: audio.InterchangeBitDepth, Channels: 2}
	}
	return &Controller{
		backend: backend,
		enum:    audio.NewEnumerator(backend, opts.Logger),
		mixer:   mixer,
		opts:    opts,
		log:     opts.Logger,
		state:   Idle,
	}
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is recording.
func (c *Controller) Active() bool {
	return c.State() == Active
}

// Snapshot describes the current session. Channels is empty when Idle.
func (c *Controller) Snapshot() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{State: c.state}
	if c.current == nil {
		return info
	}
	info.Destination = c.current.destination
	info.WorkDir = c.current.workDir
	info.StartTime = c.current.start
	info.KeepAlive = c.current.keepAlive != nil && c.current.keepAlive.Active()
	for _, ch := range c.current.channels {
		info.Channels = append(info.Channels, ChannelInfo{
			Device:  ch.Device().Name,
			Kind:    ch.Device().Kind.String(),
			File:    filepath.Base(ch.Path()),
			Format:  ch.Format().String(),
			Frames:  ch.Frames(),
			Running: ch.Running(),
		})
	}
	return info
}

// MicrophoneFileName numbers base before its extension: ("mic.wav", 2)
// gives "mic2.wav".
func MicrophoneFileName(base string, n int) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + strconv.Itoa(n) + ext
}

// Start begins a session that will be mixed into destination. It is a
// no-op when recording is disabled and fails with ErrSessionBusy unless
// the controller is Idle. Devices that cannot be opened are skipped; the
// session becomes Active even when none opened.
func (c *Controller) Start(destination string) error {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrSessionBusy, state)
	}
	if c.opts.Enabled != nil && !c.opts.Enabled() {
		c.mu.Unlock()
		c.log.Info("Recording disabled, ignoring start", "destination", destination)
		return nil
	}
	c.state = Starting
	c.transition = make(chan struct{})
	c.mu.Unlock()

	sess, err := c.open(destination)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.transition)
	if err != nil {
		c.state = Idle
		return err
	}
	c.current = sess
	c.state = Active

	c.log.Info("Session started",
		"destination", destination,
		"work_dir", sess.workDir,
		"channels", len(sess.channels),
		"failed", len(sess.openErrors),
		"keep_alive", sess.keepAlive != nil)
	return nil
}

// open creates the working directory and opens every channel. Only a
// working directory failure is fatal.
func (c *Controller) open(destination string) (*capture, error) {
	if err := os.MkdirAll(c.opts.WorkRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work root %s: %w", c.opts.WorkRoot, err)
	}
	workDir, err := os.MkdirTemp(c.opts.WorkRoot, "session-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	sess := &capture{destination: destination, workDir: workDir, start: time.Now()}

	type target struct {
		dev  audio.Device
		file string
	}
	var targets []target
	if dev, ok := c.enum.DefaultLoopbackDevice(); ok {
		targets = append(targets, target{dev, c.opts.LoopbackFile})
	} else {
		sess.openErrors = append(sess.openErrors, fmt.Errorf("%w: no loopback device", audio.ErrDeviceUnavailable))
		c.log.Warn("No loopback device, recording microphones only")
	}
	n := 0
	for dev := range c.enum.ListInputDevices() {
		n++
		targets = append(targets, target{dev, MicrophoneFileName(c.opts.MicFile, n)})
	}

	// Open concurrently; each slot is written by one goroutine only.
	channels := make([]*audio.Channel, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			ch, err := audio.OpenChannel(c.backend, t.dev, filepath.Join(workDir, t.file), c.log)
			if err != nil {
				c.log.Warn("Skipping device", "device", t.dev.Name, "kind", t.dev.Kind, "error", err)
				errs[i] = err
				return nil
			}
			channels[i] = ch
			return nil
		})
	}
	_ = g.Wait()

	loopbackOpen := false
	for i, ch := range channels {
		if ch == nil {
			sess.openErrors = append(sess.openErrors, errs[i])
			continue
		}
		sess.channels = append(sess.channels, ch)
		if ch.Device().Kind == audio.KindLoopback {
			loopbackOpen = true
		}
	}

	if loopbackOpen && c.opts.KeepAlive {
		ka := audio.NewKeepAlive(c.backend, c.opts.KeepAliveFormat, c.log)
		if err := ka.Start(); err != nil {
			c.log.Warn("Keep-alive unavailable, loopback may pause during silence", "error", err)
		} else {
			sess.keepAlive = ka
		}
	}

	return sess, nil
}

// Stop ends the session: it closes every channel, stops the keep-alive,
// mixes the working directory into the destination and removes the
// working directory. Each step runs even when an earlier one failed; the
// failures are returned together. Stop while Idle returns nil, nil.
func (c *Controller) Stop(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	for c.state == Starting || c.state == Stopping {
		wait := c.transition
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}
	if c.state != Active {
		c.mu.Unlock()
		return nil, nil
	}
	sess := c.current
	c.state = Stopping
	c.transition = make(chan struct{})
	c.mu.Unlock()

	report, err := c.teardown(ctx, sess)

	c.mu.Lock()
	c.current = nil
	c.state = Idle
	close(c.transition)
	c.mu.Unlock()

	return report, err
}

func (c *Controller) teardown(ctx context.Context, sess *capture) (*Report, error) {
	report := &Report{
		Destination: sess.destination,
		WorkDir:     sess.workDir,
		Duration:    time.Since(sess.start),
		Channels:    len(sess.channels),
		OpenErrors:  sess.openErrors,
	}
	var errs error

	// 1. Channels: device stop, then sink close, each independently.
	errs = multierr.Append(errs, contain("close channels", func() error {
		p := pool.New().WithErrors()
		for _, ch := range sess.channels {
			p.Go(func() error {
				if err := ch.Close(); err != nil {
					return fmt.Errorf("channel %s: %w", filepath.Base(ch.Path()), err)
				}
				return nil
			})
		}
		return p.Wait()
	}))

	// 2. Keep-alive, only after every channel stopped.
	if sess.keepAlive != nil {
		errs = multierr.Append(errs, contain("stop keep-alive", sess.keepAlive.Stop))
	}

	// 3. Mix whatever made it to disk.
	errs = multierr.Append(errs, contain("mix", func() error {
		inputs, err := mix.Discover(sess.workDir)
		if err != nil {
			return err
		}
		res, err := c.mixer.Mix(ctx, mix.Job{Inputs: inputs, Output: sess.destination})
		report.Mix = res
		if err != nil {
			return err
		}
		report.Output = true
		return res.Err()
	}))

	// 4. Working directory, whatever happened above.
	errs = multierr.Append(errs, contain("cleanup", func() error {
		if err := os.RemoveAll(sess.workDir); err != nil {
			return fmt.Errorf("%w: %w", ErrCleanup, err)
		}
		return nil
	}))

	if errs != nil {
		c.log.Warn("Session stopped with errors", "destination", sess.destination, "error", errs)
	} else {
		c.log.Info("Session stopped", "destination", sess.destination, "duration", report.Duration)
	}
	return report, errs
}

// contain runs one teardown step, turning a panic into an error so the
// remaining steps still run.
func contain(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
