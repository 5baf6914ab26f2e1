// Package audiotest provides an in-memory audio backend whose devices
// deliver synthetic frames from goroutines, standing in for driver threads.
package audiotest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/audiolibrelab/callcapture/internal/audio"
)

// DefaultPeriod is the callback interval of fake devices.
const DefaultPeriod = 10 * time.Millisecond

// Microphone returns a fake microphone device.
func Microphone(id string, sampleRate, channels int) audio.Device {
	return audio.Device{
		ID:     id,
		Name:   "Fake Microphone " + id,
		Kind:   audio.KindMicrophone,
		Format: audio.Format{SampleRate: sampleRate, BitDepth: audio.InterchangeBitDepth, Channels: channels},
	}
}

// Loopback returns a fake loopback device.
func Loopback(sampleRate, channels int) audio.Device {
	return audio.Device{
		ID:        "loopback",
		Name:      "Fake Speakers",
		Kind:      audio.KindLoopback,
		Format:    audio.Format{SampleRate: sampleRate, BitDepth: audio.InterchangeBitDepth, Channels: channels},
		IsDefault: true,
	}
}

// Backend implements audio.Backend. Configure the exported fields before
// handing it to the code under test.
type Backend struct {
	Microphones  []audio.Device
	Speakers     *audio.Device
	Amplitude    int16
	Period       time.Duration
	FailOpen     map[string]error
	FailPlayback error
	EnumerateErr error

	mu        sync.Mutex
	captures  []*CaptureStream
	playbacks []*PlaybackStream
	closed    bool
}

var _ audio.Backend = (*Backend)(nil)

func (b *Backend) period() time.Duration {
	if b.Period > 0 {
		return b.Period
	}
	return DefaultPeriod
}

func (b *Backend) CaptureDevices() ([]audio.Device, error) {
	if b.EnumerateErr != nil {
		return nil, b.EnumerateErr
	}
	return append([]audio.Device(nil), b.Microphones...), nil
}

func (b *Backend) LoopbackDevice() (audio.Device, error) {
	if b.Speakers == nil {
		return audio.Device{}, fmt.Errorf("%w: no loopback device", audio.ErrDeviceUnavailable)
	}
	return *b.Speakers, nil
}

func (b *Backend) OpenCapture(dev audio.Device, onData audio.DataFunc, onStop func()) (audio.Stream, audio.Format, error) {
	if err, ok := b.FailOpen[dev.ID]; ok {
		return nil, audio.Format{}, err
	}

	format := dev.Format
	format.BitDepth = audio.InterchangeBitDepth
	s := &CaptureStream{
		Device:    dev,
		format:    format,
		amplitude: b.Amplitude,
		period:    b.period(),
		onData:    onData,
		onStop:    onStop,
	}

	b.mu.Lock()
	b.captures = append(b.captures, s)
	b.mu.Unlock()
	return s, format, nil
}

func (b *Backend) OpenPlayback(format audio.Format, fill audio.FillFunc) (audio.Stream, error) {
	if b.FailPlayback != nil {
		return nil, b.FailPlayback
	}

	s := &PlaybackStream{format: format, fill: fill, period: b.period()}
	b.mu.Lock()
	b.playbacks = append(b.playbacks, s)
	b.mu.Unlock()
	return s, nil
}

func (b *Backend) GetType() audio.BackendType {
	return "fake"
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Captures returns every capture stream opened so far.
func (b *Backend) Captures() []*CaptureStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*CaptureStream(nil), b.captures...)
}

// Playbacks returns every playback stream opened so far.
func (b *Backend) Playbacks() []*PlaybackStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*PlaybackStream(nil), b.playbacks...)
}

// CaptureStream emits frames paced by wall-clock time, so a stream that
// runs for two seconds delivers two seconds of audio.
type CaptureStream struct {
	Device audio.Device

	format    audio.Format
	amplitude int16
	period    time.Duration
	onData    audio.DataFunc
	onStop    func()

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	frames  uint64
	state   string
	stopped bool
}

// State returns "opened", "started", "stopped" or "closed".
func (s *CaptureStream) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return "opened"
	}
	return s.state
}

// Frames returns the number of frames delivered so far.
func (s *CaptureStream) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *CaptureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return errors.New("already started")
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.state = "started"
	go s.run(s.stop, s.done)
	return nil
}

func (s *CaptureStream) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	started := time.Now()
	var emitted uint64
	frameBytes := s.format.BytesPerFrame()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		target := uint64(time.Since(started).Seconds() * float64(s.format.SampleRate))
		if target <= emitted {
			continue
		}
		n := target - emitted
		buf := make([]byte, int(n)*frameBytes)
		for i := 0; i+1 < len(buf); i += 2 {
			binary.LittleEndian.PutUint16(buf[i:], uint16(s.amplitude))
		}
		s.onData(buf, uint32(n))
		emitted = target

		s.mu.Lock()
		s.frames = emitted
		s.mu.Unlock()
	}
}

// halt stops the emitting goroutine and waits for it.
func (s *CaptureStream) halt() bool {
	s.mu.Lock()
	stop, done, already := s.stop, s.done, s.stopped
	s.stopped = true
	s.mu.Unlock()

	if stop == nil || already {
		return false
	}
	close(stop)
	<-done
	return true
}

func (s *CaptureStream) Stop() error {
	halted := s.halt()
	s.mu.Lock()
	s.state = "stopped"
	s.mu.Unlock()
	if halted && s.onStop != nil {
		s.onStop()
	}
	return nil
}

// Lose simulates the driver stopping the device on its own.
func (s *CaptureStream) Lose() {
	if s.halt() && s.onStop != nil {
		s.onStop()
	}
}

func (s *CaptureStream) Close() error {
	s.halt()
	s.mu.Lock()
	s.state = "closed"
	s.mu.Unlock()
	return nil
}

// PlaybackStream pulls buffers from its fill function on a timer.
type PlaybackStream struct {
	format audio.Format
	fill   audio.FillFunc
	period time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	pulled  int
	nonZero bool
	state   string
}

func (s *PlaybackStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.state = "started"
	go s.run(s.stop, s.done)
	return nil
}

func (s *PlaybackStream) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	frames := int(s.period.Seconds() * float64(s.format.SampleRate))
	if frames < 1 {
		frames = 1
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		buf := make([]byte, frames*s.format.BytesPerFrame())
		for i := range buf {
			buf[i] = 0xAA
		}
		s.fill(buf, uint32(frames))

		s.mu.Lock()
		s.pulled += len(buf)
		for _, v := range buf {
			if v != 0 {
				s.nonZero = true
				break
			}
		}
		s.mu.Unlock()
	}
}

func (s *PlaybackStream) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.state = "stopped"
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *PlaybackStream) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	s.state = "closed"
	s.mu.Unlock()
	return nil
}

// State returns "opened", "started", "stopped" or "closed".
func (s *PlaybackStream) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return "opened"
	}
	return s.state
}

// Pulled returns how many bytes the device has requested, and whether any
// of them were not silence.
func (s *PlaybackStream) Pulled() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled, s.nonZero
}
