package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// KeepAlive plays silence on the default render device so that loopback
// capture keeps delivering frames while nothing else is playing.
type KeepAlive struct {
	backend Backend
	source  *SilenceSource
	log     *slog.Logger

	mu     sync.Mutex
	stream Stream
}

// NewKeepAlive prepares a keep-alive injector playing silence in format.
func NewKeepAlive(backend Backend, format Format, logger *slog.Logger) *KeepAlive {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeepAlive{
		backend: backend,
		source:  NewSilenceSource(format),
		log:     logger,
	}
}

// Start begins playback. Calling Start on a running injector is a no-op.
func (k *KeepAlive) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.stream != nil {
		return nil
	}

	stream, err := k.backend.OpenPlayback(k.source.Format(), func(out []byte, _ uint32) {
		_, _ = k.source.Read(out)
	})
	if err != nil {
		return fmt.Errorf("failed to open keep-alive playback: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start keep-alive playback: %w", err)
	}

	k.stream = stream
	k.log.Debug("keep-alive playback started", "format", k.source.Format().String())
	return nil
}

// Stop halts and disposes playback. Calling Stop when idle is a no-op.
func (k *KeepAlive) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.stream == nil {
		return nil
	}

	var err error
	if serr := k.stream.Stop(); serr != nil {
		err = multierr.Append(err, fmt.Errorf("stop keep-alive playback: %w", serr))
	}
	if cerr := k.stream.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close keep-alive playback: %w", cerr))
	}
	k.stream = nil
	k.log.Debug("keep-alive playback stopped")
	return err
}

// Active reports whether silence is currently being played.
func (k *KeepAlive) Active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stream != nil
}
