//go:build cgo

package audio

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"
)

// rawFormat is the sample type requested from every device; miniaudio
// converts from whatever the hardware delivers.
var rawFormat = malgo.FormatS16

// emptyDeviceID is an empty malgo device id.
var emptyDeviceID malgo.DeviceID

type malgoBackend struct {
	ctx      *malgo.AllocatedContext
	periodMS uint32
	log      *slog.Logger
}

func newMalgoBackend(periodMS int, logger *slog.Logger) (Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}

	if periodMS < 0 {
		periodMS = 0
	}
	return &malgoBackend{ctx: ctx, periodMS: uint32(periodMS), log: logger}, nil
}

// loopbackNative reports whether the platform supports render capture
// through miniaudio's loopback device type (WASAPI only).
func loopbackNative() bool {
	return runtime.GOOS == "windows"
}

func toMalgoDeviceID(id string) malgo.DeviceID {
	var res malgo.DeviceID
	copy(res[:], id)
	return res
}

// nativeFormat picks the first concrete format the driver reports.
func nativeFormat(info malgo.DeviceInfo) Format {
	f := Format{BitDepth: InterchangeBitDepth}
	for i := 0; i < int(info.FormatCount) && i < len(info.Formats); i++ {
		native := info.Formats[i]
		if native.SampleRate == 0 && native.Channels == 0 {
			continue
		}
		f.SampleRate = int(native.SampleRate)
		f.Channels = int(native.Channels)
		break
	}
	return f
}

func (b *malgoBackend) listDevices(typ malgo.DeviceType, kind DeviceKind) ([]Device, error) {
	infos, err := b.ctx.Devices(typ)
	if err != nil {
		return nil, err
	}

	res := make([]Device, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		full, err := b.ctx.DeviceInfo(typ, info.ID, malgo.Shared)
		if err != nil {
			b.log.Warn("Unable to get audio device info", "device", info.Name(), "error", err)
			continue
		}

		id := string(append([]byte(nil), full.ID[:]...))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			Kind:      kind,
			Format:    nativeFormat(full),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

func (b *malgoBackend) CaptureDevices() ([]Device, error) {
	devices, err := b.listDevices(malgo.Capture, KindMicrophone)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	mics := devices[:0]
	for _, d := range devices {
		if isMonitorSource(d.Name) {
			continue
		}
		mics = append(mics, d)
	}
	return mics, nil
}

func (b *malgoBackend) LoopbackDevice() (Device, error) {
	if loopbackNative() {
		playback, err := b.listDevices(malgo.Playback, KindLoopback)
		if err != nil {
			return Device{}, fmt.Errorf("failed to list playback devices: %w", err)
		}
		return pickDefault(playback)
	}

	// Without native loopback the sound server exposes each sink as a
	// "Monitor of ..." capture source.
	captures, err := b.listDevices(malgo.Capture, KindLoopback)
	if err != nil {
		return Device{}, fmt.Errorf("failed to list capture devices: %w", err)
	}
	var monitors []Device
	for _, d := range captures {
		if isMonitorSource(d.Name) {
			monitors = append(monitors, d)
		}
	}
	return pickDefault(monitors)
}

func (b *malgoBackend) OpenCapture(dev Device, onData DataFunc, onStop func()) (Stream, Format, error) {
	typ := malgo.Capture
	if dev.Kind == KindLoopback && loopbackNative() {
		typ = malgo.Loopback
	}

	deviceConfig := malgo.DefaultDeviceConfig(typ)
	deviceConfig.SampleRate = uint32(dev.Format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = b.periodMS
	deviceConfig.Capture.Format = rawFormat
	deviceConfig.Capture.Channels = uint32(dev.Format.Channels)
	deviceConfig.Alsa.NoMMap = 1

	malgoID := toMalgoDeviceID(dev.ID)
	if malgoID != emptyDeviceID {
		deviceConfig.Capture.DeviceID = malgoID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			onData(input, frameCount)
		},
		Stop: func() {
			if onStop != nil {
				onStop()
			}
		},
	}

	device, err := malgo.InitDevice(b.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: init %s: %v", ErrDeviceUnavailable, dev.Name, err)
	}

	format := Format{
		SampleRate: int(device.SampleRate()),
		BitDepth:   malgo.SampleSizeInBytes(device.CaptureFormat()) * 8,
		Channels:   int(device.CaptureChannels()),
	}
	return &malgoStream{device: device}, format, nil
}

func (b *malgoBackend) OpenPlayback(format Format, fill FillFunc) (Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = b.periodMS
	deviceConfig.Playback.Format = rawFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			fill(output, frameCount)
		},
	}

	device, err := malgo.InitDevice(b.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: init playback: %v", ErrDeviceUnavailable, err)
	}
	return &malgoStream{device: device}, nil
}

func (b *malgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}

func (b *malgoBackend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Start() error { return s.device.Start() }

func (s *malgoStream) Stop() error { return s.device.Stop() }

func (s *malgoStream) Close() error {
	s.device.Uninit()
	return nil
}
