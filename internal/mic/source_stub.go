//go:build !portaudio

package mic

import (
	"context"
	"log/slog"
)

// Source stub when portaudio is not available.
type Source struct{}

func NewSource(_ Options, _ *slog.Logger) *Source {
	return &Source{}
}

func (s *Source) Open() error { return ErrUnavailable }

func (s *Source) Close() error { return nil }

func (s *Source) Record(_ context.Context) ([]byte, error) {
	return nil, ErrUnavailable
}
