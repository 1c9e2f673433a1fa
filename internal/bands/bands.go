// Package bands partitions a frequency range into one band per light
// channel.
package bands

import (
	"fmt"
	"math"
)

// Band is a frequency interval in Hz. Low is always below High.
type Band struct {
	Low  float64
	High float64
}

// String formats the band for logging.
func (b Band) String() string {
	return fmt.Sprintf("%.2fHz-%.2fHz", b.Low, b.High)
}

// Options holds the optional overrides for Compute. A nil slice means the
// override is absent.
type Options struct {
	// Mapping assigns logical bands to channels. It must have one entry per
	// channel, and entries are 1-based: channel i gets logical band
	// Mapping[i]-1. Entries may repeat. When set, the number of logical
	// bands is the largest entry.
	Mapping []int
	// Frequencies replaces the computed band boundaries. It must hold at
	// least one more boundary than there are logical bands, in strictly
	// increasing order.
	Frequencies []float64
}

// ConfigurationError is returned when the band settings cannot produce a
// valid partition.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid band configuration: " + e.Reason
}

func configErrorf(f string, v ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(f, v...)}
}

// Compute returns numChannels bands covering [minHz, maxHz]. Without
// overrides, the range is split into bands spanning an equal number of
// octaves each, so that every channel is equally likely to light up
// regardless of register.
func Compute(minHz, maxHz float64, numChannels int, opts Options) ([]Band, error) {
	if numChannels <= 0 {
		return nil, configErrorf("channel count must be positive, got %d", numChannels)
	}
	if minHz <= 0 || math.IsNaN(minHz) {
		return nil, configErrorf("minimum frequency must be positive, got %g", minHz)
	}
	if !(minHz < maxHz) || math.IsInf(maxHz, 0) {
		return nil, configErrorf("minimum frequency %g must be below maximum frequency %g", minHz, maxHz)
	}

	logical := numChannels
	if opts.Mapping != nil {
		if len(opts.Mapping) != numChannels {
			return nil, configErrorf(
				"custom channel mapping has %d entries, want %d",
				len(opts.Mapping), numChannels)
		}
		logical = 0
		for i, m := range opts.Mapping {
			if m < 1 {
				return nil, configErrorf("custom channel mapping entry %d is %d, want >= 1", i, m)
			}
			if m > logical {
				logical = m
			}
		}
	}

	var limits []float64
	if opts.Frequencies != nil {
		if len(opts.Frequencies) < logical+1 {
			return nil, configErrorf(
				"custom channel frequencies has %d boundaries, want at least %d",
				len(opts.Frequencies), logical+1)
		}
		for i := 1; i <= logical; i++ {
			if !(opts.Frequencies[i-1] < opts.Frequencies[i]) {
				return nil, configErrorf(
					"custom channel frequencies must be strictly increasing, got %g then %g",
					opts.Frequencies[i-1], opts.Frequencies[i])
			}
		}
		limits = opts.Frequencies
	} else {
		limits = Boundaries(minHz, maxHz, logical)
	}

	store := make([]Band, logical)
	for i := range store {
		store[i] = Band{Low: limits[i], High: limits[i+1]}
	}

	if opts.Mapping == nil {
		return store, nil
	}

	mapped := make([]Band, numChannels)
	for i, m := range opts.Mapping {
		mapped[i] = store[m-1]
	}
	return mapped, nil
}

// Boundaries returns count+1 log-spaced boundaries from minHz to maxHz.
// Each boundary is the previous one multiplied by a fixed octave step. The
// last boundary is exactly maxHz.
func Boundaries(minHz, maxHz float64, count int) []float64 {
	octaves := math.Log2(maxHz / minHz)
	step := math.Exp2(octaves / float64(count))

	limits := make([]float64, count+1)
	limits[0] = minHz
	for i := 1; i < count; i++ {
		limits[i] = limits[i-1] * step
	}
	limits[count] = maxHz

	return limits
}

// Octaves returns the number of octaves between minHz and maxHz.
func Octaves(minHz, maxHz float64) float64 {
	return math.Log2(maxHz / minHz)
}
