package audio

import (
	"errors"
	"fmt"
)

// InterchangeBitDepth is the sample width every capture channel writes to disk.
const InterchangeBitDepth = 16

var (
	// ErrDeviceUnavailable is returned when a device is missing, busy or
	// refuses format negotiation at open time.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrCaptureIO is returned when a channel's file sink cannot be written.
	ErrCaptureIO = errors.New("capture sink failure")

	// ErrDeviceLost is recorded when the driver stops a device while its
	// channel is still running.
	ErrDeviceLost = errors.New("audio device stopped unexpectedly")
)

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"`
	Channels   int `json:"channels" yaml:"channels"`
}

// Valid reports whether the format can back a file sink.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitDepth > 0 && f.BitDepth%8 == 0
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}

// DeviceKind distinguishes microphone inputs from the system loopback.
type DeviceKind int

const (
	KindMicrophone DeviceKind = iota
	KindLoopback
)

func (k DeviceKind) String() string {
	switch k {
	case KindMicrophone:
		return "microphone"
	case KindLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Device identifies one capture endpoint together with the format it
// reports natively. A zero SampleRate or Channels means "whatever the
// driver picks".
type Device struct {
	ID        string
	Name      string
	Kind      DeviceKind
	Format    Format
	IsDefault bool
}
