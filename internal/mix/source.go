package mix

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format tag of integer PCM.
const wavFormatPCM = 1

// source streams one input file converted to the mix rate and channel count.
type source struct {
	path    string
	file    *os.File
	dec     *wav.Decoder
	rate    int
	inCh    int
	outCh   int
	bits    int
	pcm     *audio.IntBuffer
	pending []int     // samples of an incomplete frame carried to the next read
	mapped  []float64 // reused conversion buffer
	rs      *resampler
	eof     bool
	frames  int64 // source frames decoded so far
}

// openSource validates path as a PCM wav file and positions it at the
// start of its sample data. Every failure is an ErrDecode.
func openSource(path string, outRate, outCh int) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}

	s, err := newSource(f, path, outRate, outCh)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func newSource(f *os.File, path string, outRate, outCh int) (*source, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s: not a valid wav file", ErrDecode, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: %s: unsupported encoding %d", ErrDecode, path, dec.WavAudioFormat)
	}

	bits := int(dec.BitDepth)
	switch bits {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %s: unsupported bit depth %d", ErrDecode, path, bits)
	}

	inCh := int(dec.NumChans)
	rate := int(dec.SampleRate)
	if inCh < 1 || rate < 1 {
		return nil, fmt.Errorf("%w: %s: invalid format %dHz/%dch", ErrDecode, path, rate, inCh)
	}
	if dec.PCMLen() <= 0 {
		return nil, fmt.Errorf("%w: %s: no audio data", ErrDecode, path)
	}

	return &source{
		path:  path,
		file:  f,
		dec:   dec,
		rate:  rate,
		inCh:  inCh,
		outCh: outCh,
		bits:  bits,
		pcm: &audio.IntBuffer{
			Data:   make([]int, blockFrames*inCh),
			Format: &audio.Format{NumChannels: inCh, SampleRate: rate},
		},
		rs: newResampler(rate, outRate, outCh),
	}, nil
}

// read fills out with interleaved frames at the mix format and returns the
// number of frames written. Fewer than len(out)/outCh frames means the
// source is exhausted.
func (s *source) read(out []float64) (int, error) {
	want := len(out) / s.outCh
	n := 0
	for n < want {
		n += s.rs.pull(out[n*s.outCh:want*s.outCh], s.eof)
		if n == want || s.eof {
			break
		}
		if err := s.fill(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// fill decodes the next block and pushes it to the resampler.
func (s *source) fill() error {
	k, err := s.dec.PCMBuffer(s.pcm)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, s.path, err)
	}
	if k == 0 {
		s.eof = true
		return nil
	}

	samples := s.pcm.Data[:k]
	if len(s.pending) > 0 {
		s.pending = append(s.pending, samples...)
		samples = s.pending
	}

	frames := len(samples) / s.inCh
	mapped := s.mapped[:0]
	for f := 0; f < frames; f++ {
		mapped = s.mapFrame(mapped, samples[f*s.inCh:(f+1)*s.inCh])
	}
	s.mapped = mapped
	s.rs.push(mapped)
	s.frames += int64(frames)

	rest := samples[frames*s.inCh:]
	s.pending = append(s.pending[:0], rest...)
	return nil
}

// mapFrame appends one input frame converted to outCh channels at 16-bit
// scale. Mono is duplicated, wider inputs are folded down by averaging the
// channels that land on the same output, narrower ones repeat.
func (s *source) mapFrame(dst []float64, frame []int) []float64 {
	switch {
	case s.inCh == s.outCh:
		for _, v := range frame {
			dst = append(dst, scale(v, s.bits))
		}
	case s.inCh == 1:
		v := scale(frame[0], s.bits)
		for c := 0; c < s.outCh; c++ {
			dst = append(dst, v)
		}
	case s.inCh > s.outCh:
		for c := 0; c < s.outCh; c++ {
			var sum float64
			var cnt int
			for k := c; k < s.inCh; k += s.outCh {
				sum += scale(frame[k], s.bits)
				cnt++
			}
			dst = append(dst, sum/float64(cnt))
		}
	default:
		for c := 0; c < s.outCh; c++ {
			dst = append(dst, scale(frame[c%s.inCh], s.bits))
		}
	}
	return dst
}

// scale brings a decoded sample to 16-bit range. 8-bit wav is unsigned.
func scale(v, bits int) float64 {
	switch bits {
	case 8:
		return float64(v-128) * 256
	case 24:
		return float64(v) / 256
	case 32:
		return float64(v) / 65536
	default:
		return float64(v)
	}
}

// Close releases the file. Safe to call more than once.
func (s *source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
