// Package lights describes the on/off state of a bank of light channels.
package lights

import (
	"io"
	"strings"
)

// States describes a bank of light channels. It is a preallocated slice
// of on/off values, one per channel, in channel order.
type States []bool

// NewStates creates a new bank of channels. All channels start off.
func NewStates(numChannels int) States {
	return make(States, numChannels)
}

// Clone returns a copy of the states.
func (s States) Clone() States {
	c := make(States, len(s))
	copy(c, s)
	return c
}

// Set sets the state of the channel at the given index.
func (s States) Set(i int, on bool) {
	s[i] = on
}

// SetAll sets every channel to the given state.
func (s States) SetAll(on bool) {
	for i := range s {
		s[i] = on
	}
}

// Equal returns true if both banks have the same length and states.
func (s States) Equal(other States) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// NumOn returns the number of channels that are on.
func (s States) NumOn() int {
	var n int
	for _, on := range s {
		if on {
			n++
		}
	}
	return n
}

// AsMask packs the states into bytes, least significant bit first. Channel
// i is bit i%8 of byte i/8.
func (s States) AsMask() []byte {
	mask := make([]byte, MaskSize(len(s)))
	for i, on := range s {
		if on {
			mask[i/8] |= 1 << (i % 8)
		}
	}
	return mask
}

// FromMask unpacks a mask produced by AsMask into s. Bits beyond the mask
// are treated as off.
func (s States) FromMask(mask []byte) {
	for i := range s {
		s[i] = i/8 < len(mask) && mask[i/8]&(1<<(i%8)) != 0
	}
}

// MaskSize returns the number of bytes needed to pack numChannels states.
func MaskSize(numChannels int) int {
	return (numChannels + 7) / 8
}

// String returns the states as a string of '1' and '0' runes.
func (s States) String() string {
	var b strings.Builder
	b.Grow(len(s))
	for _, on := range s {
		if on {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// WriteTo implements io.WriterTo. It writes the packed mask of the states.
func (s States) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.AsMask())
	return int64(n), err
}
