// Package audio decodes audio files into fixed-size blocks of 16-bit
// samples and plays those blocks back.
package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// Format describes a decoded audio stream.
type Format struct {
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved samples per frame.
	Channels int
	// Frames is the total number of frames, or -1 if unknown.
	Frames int
}

// Duration returns the length of the stream, or 0 if unknown.
func (f Format) Duration() time.Duration {
	if f.Frames < 0 || f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames) * time.Second / time.Duration(f.SampleRate)
}

// Source is a pull-based source of sample blocks.
type Source interface {
	// Format returns the format of the stream.
	Format() Format
	// ReadBlock reads the next block of chunkSize frames into dst, which is
	// grown if needed and returned. The last block is padded with silence
	// to the full size. After the last block, ReadBlock returns io.EOF.
	ReadBlock(dst []int16, chunkSize int) ([]int16, error)
	io.Closer
}

// Sink consumes blocks of samples, usually by playing them.
type Sink interface {
	// Open prepares the sink for a stream of the given format.
	Open(f Format, chunkSize int) error
	// Write plays one block. It may block to pace the caller.
	Write(block []int16) error
	io.Closer
}

// Open opens the audio file at the given path. WAV and MP3 files are
// supported.
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var stream beep.StreamSeekCloser
	var format beep.Format

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		stream, format, err = wav.Decode(f)
	case ".mp3":
		stream, format, err = mp3.Decode(f)
	default:
		err = fmt.Errorf("unsupported audio format %q", ext)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return newStreamSource(stream, format), nil
}

type streamSource struct {
	stream beep.StreamSeekCloser
	format Format
	frames [][2]float64
	eof    bool
}

func newStreamSource(stream beep.StreamSeekCloser, format beep.Format) *streamSource {
	channels := format.NumChannels
	if channels > 2 {
		// beep mixes everything down to stereo.
		channels = 2
	}

	return &streamSource{
		stream: stream,
		format: Format{
			SampleRate: int(format.SampleRate),
			Channels:   channels,
			Frames:     stream.Len(),
		},
	}
}

func (s *streamSource) Format() Format { return s.format }

func (s *streamSource) ReadBlock(dst []int16, chunkSize int) ([]int16, error) {
	if s.eof {
		return nil, io.EOF
	}

	if cap(s.frames) < chunkSize {
		s.frames = make([][2]float64, chunkSize)
	}
	frames := s.frames[:chunkSize]

	var n int
	for n < chunkSize {
		read, ok := s.stream.Stream(frames[n:])
		n += read
		if !ok {
			s.eof = true
			break
		}
	}

	if err := s.stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}

	for i := n; i < chunkSize; i++ {
		frames[i] = [2]float64{}
	}

	size := chunkSize * s.format.Channels
	if cap(dst) < size {
		dst = make([]int16, size)
	}
	dst = dst[:size]

	for i, frame := range frames {
		for c := 0; c < s.format.Channels; c++ {
			dst[i*s.format.Channels+c] = ToInt16(frame[c])
		}
	}

	return dst, nil
}

func (s *streamSource) Close() error {
	return s.stream.Close()
}

// ToInt16 converts a sample in [-1, 1] to a signed 16-bit sample. Values
// outside the range are clipped.
func ToInt16(x float64) int16 {
	switch {
	case math.IsNaN(x):
		return 0
	case x >= 1:
		return math.MaxInt16
	case x <= -1:
		return -math.MaxInt16
	default:
		return int16(math.Round(x * math.MaxInt16))
	}
}

// FromInt16 converts a signed 16-bit sample to [-1, 1].
func FromInt16(s int16) float64 {
	return float64(s) / math.MaxInt16
}

// SliceSource is a Source over a fixed list of samples held in memory.
type SliceSource struct {
	format  Format
	samples []int16
	pos     int
}

var _ Source = (*SliceSource)(nil)

// NewSliceSource creates a source over interleaved samples.
func NewSliceSource(sampleRate, channels int, samples []int16) *SliceSource {
	return &SliceSource{
		format: Format{
			SampleRate: sampleRate,
			Channels:   channels,
			Frames:     len(samples) / channels,
		},
		samples: samples,
	}
}

func (s *SliceSource) Format() Format { return s.format }

func (s *SliceSource) ReadBlock(dst []int16, chunkSize int) ([]int16, error) {
	if s.pos >= len(s.samples) {
		return nil, io.EOF
	}

	size := chunkSize * s.format.Channels
	if cap(dst) < size {
		dst = make([]int16, size)
	}
	dst = dst[:size]

	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	clear(dst[n:])

	return dst, nil
}

func (s *SliceSource) Close() error { return nil }
