/*Package chamber models the PTC temperature chamber as seen by its front-end:
a small plant-and-controller simulation, the gain schedule and feedforward
table used by the firmware, the status message it broadcasts, and the
pid_tune console command grammar.

A Simulator is not safe for concurrent use.  The owner (one websocket session,
or the device shell behind a mutex) serializes ticks and commands.
*/
package chamber

// Gains are PID gains
type Gains struct {
	Kp float64 `json:"Kp" yaml:"kp" koanf:"kp"`
	Ki float64 `json:"Ki" yaml:"ki" koanf:"ki"`
	Kd float64 `json:"Kd" yaml:"kd" koanf:"kd"`
}

// GainPoint is one row of a gain schedule
type GainPoint struct {
	Temperature float64
	Gains
}

// GainSchedule is a temperature-ordered list of gain points
type GainSchedule []GainPoint

// DefaultGainSchedule returns the schedule flashed on the board
func DefaultGainSchedule() GainSchedule {
	return GainSchedule{
		{20.0, Gains{0.05, 0.010, 0.005}},
		{30.0, Gains{0.06, 0.012, 0.006}},
		{40.0, Gains{0.07, 0.015, 0.007}},
		{50.0, Gains{0.08, 0.018, 0.008}},
		{60.0, Gains{0.09, 0.020, 0.009}},
	}
}

// Interpolate returns the gains for target, linearly interpolated between the
// bracketing points and clamped to the end points outside the schedule.
func (gs GainSchedule) Interpolate(target float64) Gains {
	if len(gs) == 0 {
		return Gains{}
	}
	lo, hi, ratio := bracket(len(gs), func(i int) float64 { return gs[i].Temperature }, target)
	if lo == hi {
		return gs[lo].Gains
	}
	a, b := gs[lo].Gains, gs[hi].Gains
	return Gains{
		Kp: lerp(a.Kp, b.Kp, ratio),
		Ki: lerp(a.Ki, b.Ki, ratio),
		Kd: lerp(a.Kd, b.Kd, ratio),
	}
}

// bracket finds the interpolation interval for target over n points whose
// temperature is given by temp.  lower is the last point at or below target,
// upper the first point at or above it.  lo == hi means "use point lo as is".
func bracket(n int, temp func(int) float64, target float64) (lo, hi int, ratio float64) {
	lower, upper := -1, -1
	for i := 0; i < n; i++ {
		t := temp(i)
		if t <= target {
			lower = i
		}
		if t >= target && upper == -1 {
			upper = i
		}
	}
	switch {
	case lower == -1:
		return 0, 0, 0
	case upper == -1 || lower == upper:
		return lower, lower, 0
	}
	span := temp(upper) - temp(lower)
	if span == 0 {
		return lower, lower, 0
	}
	return lower, upper, (target - temp(lower)) / span
}

func lerp(a, b, ratio float64) float64 {
	return a + ratio*(b-a)
}
