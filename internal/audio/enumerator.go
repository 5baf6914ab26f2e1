package audio

import (
	"errors"
	"iter"
	"log/slog"
)

// Enumerator lists capture devices. Every call queries the backend; nothing
// is cached between calls.
type Enumerator struct {
	backend Backend
	log     *slog.Logger
}

// NewEnumerator creates an enumerator over backend.
func NewEnumerator(backend Backend, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{backend: backend, log: logger}
}

// ListInputDevices returns the microphones present when the sequence is
// ranged over; each iteration queries the backend again. An empty sequence
// is a valid answer: enumeration failures are logged, not returned.
func (e *Enumerator) ListInputDevices() iter.Seq[Device] {
	return func(yield func(Device) bool) {
		devices, err := e.backend.CaptureDevices()
		if err != nil {
			e.log.Warn("Failed to enumerate capture devices", "error", err)
			return
		}
		for _, d := range devices {
			if d.Kind != KindMicrophone {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// DefaultLoopbackDevice returns the loopback device, if the system has one.
func (e *Enumerator) DefaultLoopbackDevice() (Device, bool) {
	dev, err := e.backend.LoopbackDevice()
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			e.log.Debug("no loopback device", "error", err)
		} else {
			e.log.Warn("Failed to look up loopback device", "error", err)
		}
		return Device{}, false
	}
	dev.Kind = KindLoopback
	return dev, true
}
