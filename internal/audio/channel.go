package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
)

// wavPCM is the WAVE format tag for integer PCM.
const wavPCM = 1

// Channel bridges one capture device to one WAV file. Frames are written
// from the device's driver thread as they arrive.
type Channel struct {
	device Device
	path   string
	format Format
	log    *slog.Logger

	stream Stream
	file   *os.File
	enc    *wav.Encoder

	// running is cleared before the device is stopped on purpose, so the
	// driver's stop notification can tell a requested stop from a lost device.
	running atomic.Bool

	mu         sync.Mutex // guards the sink between callbacks and Close
	buf        *goaudio.IntBuffer
	frames     uint64
	failure    error
	sinkClosed bool

	failed    chan struct{}
	failOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenChannel initialises dev, creates a streaming WAV sink at path in the
// device's negotiated format and starts capturing. On failure nothing is
// left on disk.
func OpenChannel(backend Backend, dev Device, path string, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		device: dev,
		path:   path,
		log:    logger.With("device", dev.Name, "kind", dev.Kind.String()),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	stream, format, err := backend.OpenCapture(dev, c.onData, c.onStop)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, err
	}
	if !format.Valid() || format.BitDepth != InterchangeBitDepth {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: %s negotiated unusable format %s", ErrDeviceUnavailable, dev.Name, format)
	}

	file, err := os.Create(path)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: create %s: %v", ErrCaptureIO, path, err)
	}

	c.stream = stream
	c.format = format
	c.file = file
	c.enc = wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, wavPCM)
	c.buf = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: format.BitDepth,
	}

	// An empty write emits the RIFF header, so a channel that never
	// receives a frame still leaves a well-formed file behind.
	if err := c.enc.Write(c.buf); err != nil {
		c.discard()
		return nil, fmt.Errorf("%w: write header %s: %v", ErrCaptureIO, path, err)
	}

	c.running.Store(true)
	if err := stream.Start(); err != nil {
		c.running.Store(false)
		c.discard()
		return nil, fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, dev.Name, err)
	}

	go c.watch()

	c.log.Info("Capture channel started", "file", path, "format", format.String())
	return c, nil
}

// discard undoes a partially opened channel.
func (c *Channel) discard() {
	_ = c.stream.Close()
	_ = c.file.Close()
	_ = os.Remove(c.path)
}

func (c *Channel) onData(samples []byte, frameCount uint32) {
	if !c.running.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sinkClosed || c.failure != nil {
		return
	}

	n := len(samples) / 2
	n -= n % c.format.Channels
	if n <= 0 {
		return
	}
	if cap(c.buf.Data) < n {
		c.buf.Data = make([]int, n)
	}
	c.buf.Data = c.buf.Data[:n]
	for i := range c.buf.Data {
		c.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(samples[2*i:])))
	}

	if err := c.enc.Write(c.buf); err != nil {
		c.failure = fmt.Errorf("%w: %s: %v", ErrCaptureIO, c.path, err)
		c.signalFailure()
		return
	}
	c.frames += uint64(n / c.format.Channels)
}

func (c *Channel) onStop() {
	if !c.running.Load() {
		return
	}

	c.mu.Lock()
	if c.failure == nil {
		c.failure = fmt.Errorf("%w: %s", ErrDeviceLost, c.device.Name)
	}
	c.mu.Unlock()
	c.signalFailure()
}

func (c *Channel) signalFailure() {
	c.failOnce.Do(func() { close(c.failed) })
}

// watch closes the channel early once capture has failed. Close cannot be
// called from the driver thread itself.
func (c *Channel) watch() {
	select {
	case <-c.failed:
		c.log.Warn("Capture channel closed early", "file", c.path, "error", c.Err())
		_ = c.Close()
	case <-c.done:
	}
}

// Close stops the device, then finalises and closes the file. It is safe
// to call more than once; later calls return the first result.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.running.Store(false)

		var err error
		if serr := c.stream.Stop(); serr != nil {
			err = multierr.Append(err, fmt.Errorf("stop device %s: %w", c.device.Name, serr))
		}

		c.mu.Lock()
		c.sinkClosed = true
		if cerr := c.enc.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: finalize %s: %v", ErrCaptureIO, c.path, cerr))
		}
		if cerr := c.file.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: close %s: %v", ErrCaptureIO, c.path, cerr))
		}
		err = multierr.Append(err, c.failure)
		frames := c.frames
		c.mu.Unlock()

		if cerr := c.stream.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("release device %s: %w", c.device.Name, cerr))
		}

		c.closeErr = err
		close(c.done)
		c.log.Debug("capture channel closed", "file", c.path, "frames", frames)
	})
	return c.closeErr
}

// Device returns the device this channel captures from.
func (c *Channel) Device() Device { return c.device }

// Path returns the file the channel writes to.
func (c *Channel) Path() string { return c.path }

// Format returns the negotiated on-disk format.
func (c *Channel) Format() Format { return c.format }

// Frames returns the number of frames written so far.
func (c *Channel) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Err returns the capture failure that ended the channel early, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Running reports whether the channel is still capturing.
func (c *Channel) Running() bool {
	select {
	case <-c.done:
		return false
	default:
		return c.Err() == nil
	}
}
