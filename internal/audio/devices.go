package audio

import (
	"fmt"
	"strings"
)

// monitorPrefix marks PulseAudio/PipeWire sources that carry a sink's output.
const monitorPrefix = "monitor of "

// isMonitorSource reports whether a capture source records a sink rather
// than a physical input.
func isMonitorSource(name string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), monitorPrefix)
}

// pickDefault returns the default device, falling back to the first one.
func pickDefault(devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("%w: no loopback device", ErrDeviceUnavailable)
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	return devices[0], nil
}
