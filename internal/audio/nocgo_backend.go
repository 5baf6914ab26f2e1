//go:build !cgo

package audio

import (
	"errors"
	"log/slog"
)

func newMalgoBackend(int, *slog.Logger) (Backend, error) {
	return nil, errors.New("malgo backend requires cgo")
}
