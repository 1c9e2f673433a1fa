package audio

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

func TestSliceSourcePadsLastBlock(t *testing.T) {
	samples := make([]int16, 10)
	for i := range samples {
		samples[i] = int16(i + 1)
	}

	src := NewSliceSource(8000, 2, samples)

	var blocks [][]int16
	var buf []int16
	for {
		block, err := src.ReadBlock(buf, 2)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		blocks = append(blocks, append([]int16(nil), block...))
		buf = block
	}

	// 10 samples of 2 channels in blocks of 2 frames is 3 blocks.
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}

	last := blocks[2]
	want := []int16{9, 10, 0, 0}
	for i := range want {
		if last[i] != want[i] {
			t.Fatalf("last block = %v, want %v", last, want)
		}
	}
}

func TestSliceSourceEmpty(t *testing.T) {
	src := NewSliceSource(8000, 1, nil)
	if _, err := src.ReadBlock(nil, 4); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadBlock error = %v, want io.EOF", err)
	}
}

func TestSampleConversion(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1, math.MaxInt16},
		{2, math.MaxInt16},
		{-1, -math.MaxInt16},
		{-7, -math.MaxInt16},
		{0.5, 16384},
		{math.NaN(), 0},
	}

	for _, test := range tests {
		if got := ToInt16(test.in); got != test.want {
			t.Errorf("ToInt16(%g) = %d, want %d", test.in, got, test.want)
		}
	}

	if got := FromInt16(math.MaxInt16); got != 1 {
		t.Errorf("FromInt16(max) = %g, want 1", got)
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2, Frames: 44100 * 3}
	if f.Duration() != 3*time.Second {
		t.Fatalf("Duration() = %v, want 3s", f.Duration())
	}

	f.Frames = -1
	if f.Duration() != 0 {
		t.Fatalf("Duration() = %v for unknown length, want 0", f.Duration())
	}
}

func TestSpeakerStreamPlaysQueuedFrames(t *testing.T) {
	s := &Speaker{
		format: Format{SampleRate: 8000, Channels: 1},
		queue:  make(chan [][2]float64, 2),
		done:   make(chan struct{}),
	}

	if err := s.Write([]int16{math.MaxInt16, 0, -math.MaxInt16}); err != nil {
		t.Fatal(err)
	}

	out := make([][2]float64, 5)
	n, ok := s.stream(out)
	if n != 5 || !ok {
		t.Fatalf("stream() = %d, %v", n, ok)
	}

	want := [][2]float64{{1, 1}, {0, 0}, {-1, -1}, {0, 0}, {0, 0}}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("frame %d = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestSpeakerCloseBeforeOpen(t *testing.T) {
	var s Speaker
	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func writeTestWAV(t *testing.T, path string, frames int, value float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	left := frames
	stream := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if left == 0 {
			return 0, false
		}
		n := min(left, len(samples))
		for i := range samples[:n] {
			samples[i] = [2]float64{value, value}
		}
		left -= n
		return n, true
	})

	format := beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, stream, format); err != nil {
		t.Fatal(err)
	}
}

func TestOpenWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTestWAV(t, path, 2500, 0.5)

	src, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	format := src.Format()
	if format.SampleRate != 8000 || format.Channels != 1 || format.Frames != 2500 {
		t.Fatalf("unexpected format %+v", format)
	}

	var block []int16
	var blocks int
	for {
		block, err = src.ReadBlock(block, 1024)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(block) != 1024 {
			t.Fatalf("block %d has %d samples, want 1024", blocks, len(block))
		}

		for i, v := range block {
			pos := blocks*1024 + i
			if pos < 2500 && math.Abs(float64(v)-16384) > 4 {
				t.Fatalf("sample %d = %d, want about 16384", pos, v)
			}
			if pos >= 2500 && v != 0 {
				t.Fatalf("padding sample %d = %d, want 0", pos, v)
			}
		}
		blocks++
	}

	if blocks != 3 {
		t.Errorf("got %d blocks, want 3", blocks)
	}
}

func TestOpenUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}
