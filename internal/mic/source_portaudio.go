//go:build portaudio

package mic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

// Source captures audio from the default input device.
type Source struct {
	opts   Options
	logger *slog.Logger
	stream *portaudio.Stream
	frame  []int16
}

// NewSource creates a Source. Call Open before Record.
func NewSource(opts Options, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{opts: opts.withDefaults(), logger: logger}
}

// Open initializes portaudio and starts the input stream.
func (s *Source) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}

	s.frame = make([]int16, s.opts.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.opts.SampleRate), len(s.frame), s.frame)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream: %w", err)
	}
	s.stream = stream
	s.logger.Info("microphone started", "sample_rate", s.opts.SampleRate)
	return nil
}

// Close stops the stream and releases portaudio.
func (s *Source) Close() error {
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}
	return portaudio.Terminate()
}

// Record blocks until one utterance has been captured and returns it as WAV.
func (s *Source) Record(ctx context.Context) ([]byte, error) {
	if s.stream == nil {
		return nil, fmt.Errorf("microphone not open")
	}
	seg := NewSegmenter(s.opts)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.stream.Read(); err != nil {
			return nil, fmt.Errorf("reading from stream: %w", err)
		}
		if seg.Feed(s.frame) {
			return seg.WAV(), nil
		}
	}
}
