package chamber

import (
	"fmt"

	"github.com/ptcchamber/chamberlab/util"
)

// FFEntry maps a target temperature to a base fan speed in [0,1]
type FFEntry struct {
	Temperature float64
	BaseSpeed   float64
}

// FeedforwardTable pre-biases the fan before PID correction
type FeedforwardTable []FFEntry

// DefaultFeedforward returns the table flashed on the board
func DefaultFeedforward() FeedforwardTable {
	return FeedforwardTable{
		{20.0, 0.10},
		{30.0, 0.10},
		{40.0, 0.10},
		{50.0, 0.10},
		{60.0, 0.10},
	}
}

// Clone returns a copy that can be mutated independently
func (ff FeedforwardTable) Clone() FeedforwardTable {
	out := make(FeedforwardTable, len(ff))
	copy(out, ff)
	return out
}

// Interpolate returns the base speed for target using the same bracketing
// rule as the gain schedule
func (ff FeedforwardTable) Interpolate(target float64) float64 {
	if len(ff) == 0 {
		return 0
	}
	lo, hi, ratio := bracket(len(ff), func(i int) float64 { return ff[i].Temperature }, target)
	if lo == hi {
		return ff[lo].BaseSpeed
	}
	return lerp(ff[lo].BaseSpeed, ff[hi].BaseSpeed, ratio)
}

// Set replaces entry idx.  speed is clamped to [0,1].
func (ff FeedforwardTable) Set(idx int, temp, speed float64) error {
	if idx < 0 || idx >= len(ff) {
		return fmt.Errorf("%w: index %d out of bounds (0-%d)", ErrBadIndex, idx, len(ff)-1)
	}
	ff[idx] = FFEntry{Temperature: temp, BaseSpeed: util.Clamp(speed, 0, 1)}
	return nil
}

// Format renders the table for the console
func (ff FeedforwardTable) Format() []string {
	lines := []string{
		"--- Feedforward Table ---",
		"Idx | Temp (C) | Base Speed",
		"----|----------|-----------",
	}
	for i, e := range ff {
		lines = append(lines, fmt.Sprintf("%3d | %-8.1f | %.4f", i, e.Temperature, e.BaseSpeed))
	}
	return lines
}
