// Package spectrum turns blocks of audio samples into one amplitude value
// per light channel.
package spectrum

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"libdb.so/lightshow/internal/bands"
)

// DefaultScale is the divisor applied to the mean band magnitudes. It keeps
// amplitudes of typical program audio in the 1 to 10 range.
const DefaultScale = 100000

// Config is the configuration for an Analyzer.
type Config struct {
	// ChunkSize is the number of frames in a block.
	ChunkSize int
	// AudioChannels is the number of interleaved audio channels in a block.
	AudioChannels int
	// SampleRate is the sample rate of the audio in Hz.
	SampleRate int
	// Bands is the frequency band of each light channel.
	Bands []bands.Band
	// Scale divides every amplitude. Zero means DefaultScale.
	Scale float64
	// Backend selects the FFT implementation. Empty means RealBackend.
	Backend Backend
}

// BlockSize returns the number of samples in a block.
func (c Config) BlockSize() int {
	return c.ChunkSize * c.AudioChannels
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.AudioChannels <= 0 {
		return fmt.Errorf("audio channel count must be positive, got %d", c.AudioChannels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize()%2 != 0 {
		return fmt.Errorf("block size must be even, got %d", c.BlockSize())
	}
	if !c.Backend.SupportsSize(c.BlockSize()) {
		return fmt.Errorf("%s fft does not support block size %d", c.Backend, c.BlockSize())
	}
	if len(c.Bands) == 0 {
		return errors.New("no bands given")
	}
	if c.Scale < 0 || math.IsNaN(c.Scale) || math.IsInf(c.Scale, 0) {
		return fmt.Errorf("scale must be a positive number, got %g", c.Scale)
	}
	return nil
}

// Analyzer computes per-channel amplitudes of sample blocks. An Analyzer
// reuses its scratch buffers and must not be used concurrently.
type Analyzer struct {
	cfg       Config
	transform transform
	ranges    [][2]int

	seq  []float64
	mags []float64
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Scale == 0 {
		cfg.Scale = DefaultScale
	}

	size := cfg.BlockSize()

	t, err := newTransform(cfg.Backend, size)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:       cfg,
		transform: t,
		ranges:    make([][2]int, len(cfg.Bands)),
		seq:       make([]float64, size),
		mags:      make([]float64, size/2),
	}

	for i, b := range cfg.Bands {
		a.ranges[i] = [2]int{a.BinIndex(b.Low), a.BinIndex(b.High)}
	}

	return a, nil
}

// NumChannels returns the number of light channels, which is the number
// of bands.
func (a *Analyzer) NumChannels() int {
	return len(a.cfg.Bands)
}

// BlockSize returns the number of samples Analyze expects.
func (a *Analyzer) BlockSize() int {
	return len(a.seq)
}

// NumBins returns the number of usable spectrum bins.
func (a *Analyzer) NumBins() int {
	return len(a.mags)
}

// BinIndex returns the spectrum bin index for the given frequency,
// floor(2 * chunkSize * f / sampleRate), clamped to [0, NumBins].
func (a *Analyzer) BinIndex(f float64) int {
	i := math.Floor(2 * float64(a.cfg.ChunkSize) * f / float64(a.cfg.SampleRate))
	switch {
	case math.IsNaN(i), i < 0:
		return 0
	case i > float64(len(a.mags)):
		return len(a.mags)
	default:
		return int(i)
	}
}

// BinRange returns the half-open bin range averaged for the given channel.
func (a *Analyzer) BinRange(channel int) (lo, hi int) {
	r := a.ranges[channel]
	return r[0], r[1]
}

// Analyze computes the amplitude of each channel for the given block and
// writes it into dst, which is grown if needed and returned. It panics if
// the block does not have exactly BlockSize samples.
func (a *Analyzer) Analyze(block []int16, dst []float64) []float64 {
	if len(block) != len(a.seq) {
		panic(fmt.Sprintf("spectrum: block has %d samples, want %d", len(block), len(a.seq)))
	}

	if cap(dst) < len(a.ranges) {
		dst = make([]float64, len(a.ranges))
	}
	dst = dst[:len(a.ranges)]

	for i, s := range block {
		a.seq[i] = float64(s)
	}

	a.transform.magnitudes(a.mags, a.seq)

	for i, r := range a.ranges {
		dst[i] = mean(a.mags, r[0], r[1])
	}

	vecmath.ScaleBlock(dst, dst, 1/a.cfg.Scale)
	return dst
}

func mean(v []float64, lo, hi int) float64 {
	if hi <= lo {
		return 0
	}
	var sum float64
	for _, x := range v[lo:hi] {
		sum += x
	}
	return sum / float64(hi-lo)
}
