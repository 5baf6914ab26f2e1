package audio

import (
	"errors"
	"io"
)

var errSilenceNotSeekable = errors.New("silence source is not seekable")

// SilenceSource is an endless stream of zero-valued samples. It never
// blocks, never ends and has no position.
type SilenceSource struct {
	format Format
}

var _ io.ReadSeekCloser = (*SilenceSource)(nil)

// NewSilenceSource returns a silent stream in format.
func NewSilenceSource(format Format) *SilenceSource {
	return &SilenceSource{format: format}
}

// Read fills all of p with zeros.
func (s *SilenceSource) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// Format returns the format the silence is nominally encoded in.
func (s *SilenceSource) Format() Format { return s.format }

// Length is always -1: the stream is unbounded.
func (s *SilenceSource) Length() int64 { return -1 }

// Position is always -1.
func (s *SilenceSource) Position() int64 { return -1 }

func (s *SilenceSource) Seek(int64, int) (int64, error) {
	return -1, errSilenceNotSeekable
}

func (s *SilenceSource) Close() error { return nil }
