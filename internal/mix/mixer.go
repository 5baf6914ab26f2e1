package mix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/callcapture/internal/config"
)

var (
	// ErrDecode marks a source that could not be read. It is skipped.
	ErrDecode = errors.New("source could not be decoded")
	// ErrNoValidSources means nothing could be mixed and no output exists.
	ErrNoValidSources = errors.New("no valid sources to mix")
)

// blockFrames is the number of output frames mixed per pass.
const blockFrames = 4096

// outputBitDepth is the sample size of the deliverable.
const outputBitDepth = 16

// Job is one mixing pass: every input is summed into Output.
type Job struct {
	Inputs []string
	Output string
}

// SkippedSource is an input that did not make it into the output, or was
// dropped part way through.
type SkippedSource struct {
	Path string
	Err  error
}

type Result struct {
	Output     string
	Mixed      []string
	Skipped    []SkippedSource
	Frames     int64
	SampleRate int
	Channels   int
}

// Duration of the written output.
func (r *Result) Duration() time.Duration {
	if r.SampleRate == 0 {
		return 0
	}
	return time.Duration(r.Frames) * time.Second / time.Duration(r.SampleRate)
}

// Err folds the skipped sources into one error, nil when none were skipped.
func (r *Result) Err() error {
	var err error
	for _, s := range r.Skipped {
		err = multierr.Append(err, s.Err)
	}
	return err
}

type Mixer struct {
	sampleRate int
	channels   int
	log        *slog.Logger
}

func New(cfg *config.Config) *Mixer {
	rate, ch := cfg.MixFormat()
	return &Mixer{sampleRate: rate, channels: ch, log: slog.Default()}
}

// WithLogger returns the mixer logging to logger.
func (m *Mixer) WithLogger(logger *slog.Logger) *Mixer {
	if logger != nil {
		m.log = logger
	}
	return m
}

// Format returns the sample rate and channel count of the output.
func (m *Mixer) Format() (sampleRate, channels int) {
	return m.sampleRate, m.channels
}

// Discover lists the regular files of dir in name order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read working directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

// Mix sums every decodable input of job into one 16-bit PCM wav at the
// mixer's rate and channel count. Sources are read in lockstep so memory
// stays bounded by the block size. Undecodable inputs are skipped and
// listed in the result; when none remain, no output is written and
// ErrNoValidSources is returned.
func (m *Mixer) Mix(ctx context.Context, job Job) (*Result, error) {
	res := &Result{Output: job.Output, SampleRate: m.sampleRate, Channels: m.channels}

	var sources []*source
	defer func() {
		for _, s := range sources {
			s.Close()
		}
	}()

	for _, path := range job.Inputs {
		s, err := openSource(path, m.sampleRate, m.channels)
		if err != nil {
			m.log.Warn("Skipping source", "file", path, "error", err)
			res.Skipped = append(res.Skipped, SkippedSource{Path: path, Err: err})
			continue
		}
		m.log.Debug("Mixing source", "file", path, "rate", s.rate, "channels", s.inCh, "bits", s.bits)
		sources = append(sources, s)
	}

	if len(sources) == 0 {
		return res, fmt.Errorf("%w: %d input(s), none decodable", ErrNoValidSources, len(job.Inputs))
	}

	if err := os.MkdirAll(filepath.Dir(job.Output), 0755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}

	part := job.Output + ".part"
	frames, dropped, err := m.render(ctx, sources, part)
	res.Skipped = append(res.Skipped, dropped...)
	if err != nil {
		os.Remove(part)
		return res, err
	}
	if frames == 0 {
		os.Remove(part)
		return res, fmt.Errorf("%w: sources contain no complete frames", ErrNoValidSources)
	}

	if err := os.Rename(part, job.Output); err != nil {
		os.Remove(part)
		return res, fmt.Errorf("failed to move mix into place: %w", err)
	}

	for _, s := range sources {
		if !slices.ContainsFunc(dropped, func(d SkippedSource) bool { return d.Path == s.path }) {
			res.Mixed = append(res.Mixed, s.path)
		}
	}
	res.Frames = frames

	m.log.Info("Mixed audio file saved to", "file", job.Output,
		"sources", len(res.Mixed), "skipped", len(res.Skipped), "duration", res.Duration())
	return res, nil
}

// render writes the mix of sources to path and returns the number of
// frames written and the sources that failed mid-stream.
func (m *Mixer) render(ctx context.Context, sources []*source, path string) (int64, []SkippedSource, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, m.sampleRate, outputBitDepth, m.channels, 1)
	out := &audio.IntBuffer{
		Data:           make([]int, blockFrames*m.channels),
		Format:         &audio.Format{NumChannels: m.channels, SampleRate: m.sampleRate},
		SourceBitDepth: outputBitDepth,
	}
	acc := make([]float64, blockFrames*m.channels)
	tmp := make([]float64, blockFrames*m.channels)

	active := slices.Clone(sources)
	var dropped []SkippedSource
	var total int64

	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			return total, dropped, err
		}

		clear(acc)
		longest := 0
		next := active[:0]
		for _, s := range active {
			n, err := s.read(tmp)
			if err != nil {
				// Whatever was read before the failure stays in the mix.
				m.log.Warn("Dropping source mid-stream", "file", s.path, "error", err)
				dropped = append(dropped, SkippedSource{Path: s.path, Err: err})
				s.Close()
				continue
			}
			for i, v := range tmp[:n*m.channels] {
				acc[i] += v
			}
			longest = max(longest, n)
			if n == blockFrames {
				next = append(next, s)
			} else {
				m.log.Debug("Source exhausted", "file", s.path, "frames", s.frames)
				s.Close()
			}
		}
		active = next

		if longest == 0 {
			continue
		}
		samples := out.Data[:longest*m.channels]
		for i := range samples {
			samples[i] = clip(acc[i])
		}
		out.Data = samples
		if err := enc.Write(out); err != nil {
			return total, dropped, fmt.Errorf("failed to write mix: %w", err)
		}
		out.Data = out.Data[:cap(out.Data)]
		total += int64(longest)
	}

	if err := enc.Close(); err != nil {
		return total, dropped, fmt.Errorf("failed to finalize mix: %w", err)
	}
	if err := f.Close(); err != nil {
		return total, dropped, fmt.Errorf("failed to close mix: %w", err)
	}
	return total, dropped, nil
}

// clip rounds a summed sample and saturates it to the 16-bit range.
func clip(v float64) int {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int(v)
	}
}
