package play

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/callcapture/internal/audio"
)

// errNotNative means the file cannot be streamed through the audio backend.
var errNotNative = errors.New("format not supported for native playback")

type Player struct {
	backend audio.Backend
	log     *slog.Logger
}

// New returns a player that streams through backend and falls back to an
// external player. backend may be nil.
func New(backend audio.Backend, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{backend: backend, log: logger}
}

// Play plays audioFile until it ends or ctx is done.
func (p *Player) Play(ctx context.Context, audioFile string) error {
	// Check if file exists
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	p.log.Info("Playing", "file", audioFile)

	if p.backend != nil {
		err := p.playNative(ctx, audioFile)
		if err == nil || !errors.Is(err, errNotNative) {
			return err
		}
		p.log.Debug("Falling back to external player", "reason", err)
	}

	return p.playExternal(ctx, audioFile)
}

// playNative streams a 16-bit PCM wav file to the default output device.
func (p *Player) playNative(ctx context.Context, audioFile string) error {
	f, err := os.Open(audioFile)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: %s is not a wav file", errNotNative, audioFile)
	}
	if dec.WavAudioFormat != 1 || dec.BitDepth != audio.InterchangeBitDepth {
		return fmt.Errorf("%w: %d-bit format %d", errNotNative, dec.BitDepth, dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("failed to read %s: %w", audioFile, err)
	}

	format := audio.Format{
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Channels:   int(dec.NumChans),
	}
	feed := &pcmFeed{
		dec:  dec,
		buf:  &goaudio.IntBuffer{Data: make([]int, 4096*format.Channels)},
		done: make(chan struct{}),
	}

	stream, err := p.backend.OpenPlayback(format, feed.fill)
	if err != nil {
		return fmt.Errorf("failed to open playback: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	select {
	case <-feed.done:
		p.log.Info("Playback completed")
	case <-ctx.Done():
		p.log.Info("Playback interrupted")
	}
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	return feed.Err()
}

// pcmFeed fills playback buffers from a decoder on the driver thread.
type pcmFeed struct {
	dec     *wav.Decoder
	buf     *goaudio.IntBuffer
	pending []int

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (f *pcmFeed) fill(out []byte, _ uint32) {
	i := 0
	for i+1 < len(out) {
		if len(f.pending) == 0 {
			n, err := f.dec.PCMBuffer(f.buf)
			if err != nil || n == 0 {
				clear(out[i:])
				f.finish(err)
				return
			}
			f.pending = f.buf.Data[:n]
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(f.pending[0])))
		f.pending = f.pending[1:]
		i += 2
	}
}

func (f *pcmFeed) finish(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *pcmFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (p *Player) playExternal(ctx context.Context, audioFile string) error {
	// Try to find available audio player
	player, err := findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	var cmd *exec.Cmd
	switch player {
	case "vlc":
		cmd = exec.CommandContext(ctx, "vlc", "--play-and-exit", audioFile)
	case "mpv":
		cmd = exec.CommandContext(ctx, "mpv", "--no-video", audioFile)
	case "ffplay":
		cmd = exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", audioFile)
	case "aplay":
		cmd = exec.CommandContext(ctx, "aplay", audioFile)
	default:
		return fmt.Errorf("unsupported player: %s", player)
	}

	// Run the player
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	p.log.Info("Playback completed", "player", player)
	return nil
}

func findAudioPlayer() (string, error) {
	// List of preferred audio players in order of preference
	players := []string{"vlc", "mpv", "ffplay", "aplay"}

	for _, player := range players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
