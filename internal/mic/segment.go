// Package mic records short voice commands from the default input device.
package mic

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrUnavailable is returned when the binary was built without microphone
// support.
var ErrUnavailable = errors.New("microphone not available: rebuild with -tags portaudio")

// Options tune capture and end-of-speech detection.
type Options struct {
	SampleRate      int   // Hz, default 16000
	FramesPerBuffer int   // default 1024
	Threshold       int16 // amplitude treated as speech, default 500
	// TrailingSilence ends a clip once this many seconds of silence follow
	// speech. Default 1.
	TrailingSilence float64
	// MaxSeconds caps a single clip. Default 10.
	MaxSeconds float64
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.FramesPerBuffer <= 0 {
		o.FramesPerBuffer = 1024
	}
	if o.Threshold <= 0 {
		o.Threshold = 500
	}
	if o.TrailingSilence <= 0 {
		o.TrailingSilence = 1
	}
	if o.MaxSeconds <= 0 {
		o.MaxSeconds = 10
	}
	return o
}

// Segmenter accumulates frames and decides when an utterance is complete.
// Leading silence is dropped.
type Segmenter struct {
	opts       Options
	samples    []int16
	heard      bool
	silentRun  int
	maxSilence int
	maxSamples int
}

// NewSegmenter creates a Segmenter for opts.
func NewSegmenter(opts Options) *Segmenter {
	opts = opts.withDefaults()
	return &Segmenter{
		opts:       opts,
		maxSilence: int(opts.TrailingSilence * float64(opts.SampleRate)),
		maxSamples: int(opts.MaxSeconds * float64(opts.SampleRate)),
	}
}

// Feed appends one frame and reports whether the utterance is complete.
func (s *Segmenter) Feed(frame []int16) bool {
	loud := false
	for _, v := range frame {
		if v > s.opts.Threshold || v < -s.opts.Threshold {
			loud = true
			break
		}
	}

	if !s.heard {
		if !loud {
			return false
		}
		s.heard = true
	}

	s.samples = append(s.samples, frame...)
	if loud {
		s.silentRun = 0
	} else {
		s.silentRun += len(frame)
	}
	return s.silentRun >= s.maxSilence || len(s.samples) >= s.maxSamples
}

// Heard reports whether any speech has been captured.
func (s *Segmenter) Heard() bool { return s.heard }

// WAV returns the captured samples as a mono 16-bit PCM WAV file.
func (s *Segmenter) WAV() []byte {
	return EncodeWAV(s.samples, s.opts.SampleRate)
}

// EncodeWAV wraps mono 16-bit samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer
	dataSize := len(samples) * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
