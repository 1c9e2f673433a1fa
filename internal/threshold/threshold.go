// Package threshold decides the on/off state of each light channel from its
// amplitude using a per-channel limit that adapts to the music.
//
// A channel is on when its amplitude is strictly above its limit. When the
// amplitude gets close to the limit, the limit is raised before the
// comparison. When a channel stays off for more than MaxOffCycles blocks,
// its limit is lowered so that it lights up again during quiet passages.
package threshold

import (
	"fmt"
	"math"

	"libdb.so/lightshow/internal/lights"
)

// Params are the tuning constants of the controller.
type Params struct {
	// ThresholdFactor scales the amplitude for the headroom check. The limit
	// is raised when it falls below amplitude * ThresholdFactor.
	ThresholdFactor float64
	// IncreaseFactor multiplies the limit when it is raised. Must be above 1.
	IncreaseFactor float64
	// DecreaseFactor multiplies the limit when it decays. Must be in (0, 1).
	DecreaseFactor float64
	// MaxOffCycles is the number of consecutive off blocks a channel may have
	// before its limit decays.
	MaxOffCycles int
}

// Validate validates the parameters.
func (p Params) Validate() error {
	if !(p.ThresholdFactor > 0) || math.IsInf(p.ThresholdFactor, 0) {
		return fmt.Errorf("threshold factor must be positive, got %g", p.ThresholdFactor)
	}
	if !(p.IncreaseFactor > 1) || math.IsInf(p.IncreaseFactor, 0) {
		return fmt.Errorf("increase factor must be above 1, got %g", p.IncreaseFactor)
	}
	if !(p.DecreaseFactor > 0 && p.DecreaseFactor < 1) {
		return fmt.Errorf("decrease factor must be between 0 and 1, got %g", p.DecreaseFactor)
	}
	if p.MaxOffCycles < 0 {
		return fmt.Errorf("max off cycles must not be negative, got %d", p.MaxOffCycles)
	}
	return nil
}

// State is the per-channel state of the controller for one playback run.
type State struct {
	// Limit is the current amplitude threshold of each channel.
	Limit []float64
	// OffStreak is the number of consecutive blocks each channel has been
	// off since the last time it was on or its limit decayed.
	OffStreak []int
}

// NewState creates the state for numChannels channels. The baseline holds
// either a single limit used for every channel or one limit per channel.
func NewState(numChannels int, baseline []float64) (*State, error) {
	if numChannels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", numChannels)
	}

	limit := make([]float64, numChannels)

	switch len(baseline) {
	case 1:
		for i := range limit {
			limit[i] = baseline[0]
		}
	case numChannels:
		copy(limit, baseline)
	default:
		return nil, fmt.Errorf(
			"baseline limit list has %d entries, want 1 or %d",
			len(baseline), numChannels)
	}

	for i, l := range limit {
		if !(l > 0) || math.IsInf(l, 0) {
			return nil, fmt.Errorf("baseline limit of channel %d must be positive, got %g", i, l)
		}
	}

	return &State{
		Limit:     limit,
		OffStreak: make([]int, numChannels),
	}, nil
}

// NumChannels returns the number of channels in the state.
func (s *State) NumChannels() int {
	return len(s.Limit)
}

// Step feeds one block of amplitudes through the controller, updating st in
// place, and writes the resulting channel states into dst. dst is grown if
// needed and returned. It panics if amplitudes does not have one entry per
// channel.
func (p Params) Step(st *State, amplitudes []float64, dst lights.States) lights.States {
	if len(amplitudes) != len(st.Limit) {
		panic(fmt.Sprintf(
			"threshold: got %d amplitudes for %d channels",
			len(amplitudes), len(st.Limit)))
	}

	if cap(dst) < len(st.Limit) {
		dst = lights.NewStates(len(st.Limit))
	}
	dst = dst[:len(st.Limit)]

	for i, amp := range amplitudes {
		dst[i] = p.stepChannel(st, i, sanitize(amp))
	}

	return dst
}

func (p Params) stepChannel(st *State, i int, amp float64) bool {
	// Raise the limit before deciding, so it keeps up with rising music.
	if st.Limit[i] < amp*p.ThresholdFactor {
		st.Limit[i] *= p.IncreaseFactor
	}

	if amp > st.Limit[i] {
		st.OffStreak[i] = 0
		return true
	}

	st.OffStreak[i]++
	if st.OffStreak[i] > p.MaxOffCycles {
		st.OffStreak[i] = 0
		st.Limit[i] *= p.DecreaseFactor
	}

	return false
}

// sanitize maps amplitudes that would corrupt the limit to 0.
func sanitize(amp float64) float64 {
	if math.IsNaN(amp) || math.IsInf(amp, 0) || amp < 0 {
		return 0
	}
	return amp
}
