package audiotest

import (
	"fmt"
	"os"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/callcapture/internal/audio"
)

// WriteWAV writes a constant-valued PCM file of the given length.
func WriteWAV(tb testing.TB, path string, format audio.Format, frames int, value int) {
	tb.Helper()

	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, frames*format.Channels),
		SourceBitDepth: format.BitDepth,
	}
	for i := range buf.Data {
		buf.Data[i] = value
	}
	if err := enc.Write(buf); err != nil {
		tb.Fatalf("Failed to write %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		tb.Fatalf("Failed to finalize %s: %v", path, err)
	}
}

// Info describes a decoded WAV file.
type Info struct {
	Format   audio.Format
	Frames   int
	Samples  []int
	Duration time.Duration
}

// ReadWAV decodes a whole PCM file.
func ReadWAV(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	info := &Info{
		Format: audio.Format{
			SampleRate: int(dec.SampleRate),
			BitDepth:   int(dec.BitDepth),
			Channels:   int(dec.NumChans),
		},
		Samples: buf.Data,
	}
	if info.Format.Channels > 0 {
		info.Frames = len(buf.Data) / info.Format.Channels
	}
	if info.Format.SampleRate > 0 {
		info.Duration = time.Duration(float64(info.Frames) / float64(info.Format.SampleRate) * float64(time.Second))
	}
	return info, nil
}
