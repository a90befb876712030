/*Package tuner searches for PTC heater PID gains on a live controller.

For each Profile (a target temperature plus a box of allowed gains) a Driver
runs a fixed-budget black-box optimization.  Every evaluation of the
objective cools the element back to the box temperature, loads the candidate
gains, asks the controller to score itself with eval_ptc and reads back the
mean absolute error.  Results are checkpointed per profile so an interrupted
run picks up where it left off.
*/
package tuner

import (
	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
)

// Bounds is a closed interval
type Bounds struct {
	Min float64 `yaml:"min" koanf:"min"`
	Max float64 `yaml:"max" koanf:"max"`
}

// Contains reports whether v lies in [Min, Max]
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Profile is one tuning target
type Profile struct {
	Name   string        `yaml:"name" koanf:"name"`
	Target float64       `yaml:"target" koanf:"target"`
	Kp     Bounds        `yaml:"kp" koanf:"kp"`
	Ki     Bounds        `yaml:"ki" koanf:"ki"`
	Kd     Bounds        `yaml:"kd" koanf:"kd"`
	Seed   chamber.Gains `yaml:"seed" koanf:"seed"`
}

func defaultBounds() (kp, ki, kd Bounds) {
	return Bounds{0.01, 1}, Bounds{0.001, 1}, Bounds{0, 1}
}

// DefaultProfiles are the two set points the firmware schedules between
func DefaultProfiles() []Profile {
	kp, ki, kd := defaultBounds()
	return []Profile{
		{Name: "Temp_48C", Target: 48, Kp: kp, Ki: ki, Kd: kd, Seed: chamber.Gains{Kp: 0.25, Ki: 0.03, Kd: 0.10}},
		{Name: "Temp_60C", Target: 60, Kp: kp, Ki: ki, Kd: kd, Seed: chamber.Gains{Kp: 0.30, Ki: 0.05, Kd: 0.15}},
	}
}

// Contains reports whether every gain of g is inside the profile's bounds
func (p Profile) Contains(g chamber.Gains) bool {
	return p.Kp.Contains(g.Kp) && p.Ki.Contains(g.Ki) && p.Kd.Contains(g.Kd)
}

// Lower returns the lower corner of the search box as kp, ki, kd
func (p Profile) Lower() []float64 {
	return []float64{p.Kp.Min, p.Ki.Min, p.Kd.Min}
}

// Upper returns the upper corner of the search box as kp, ki, kd
func (p Profile) Upper() []float64 {
	return []float64{p.Kp.Max, p.Ki.Max, p.Kd.Max}
}

// Vector returns g as kp, ki, kd
func Vector(g chamber.Gains) []float64 {
	return []float64{g.Kp, g.Ki, g.Kd}
}

// FromVector is the inverse of Vector
func FromVector(x []float64) chamber.Gains {
	return chamber.Gains{Kp: x[0], Ki: x[1], Kd: x[2]}
}

// SeedFromResults replaces each profile's seed with its previous best when
// that best lies inside the profile's bounds.  The input is not modified.
func SeedFromResults(profiles []Profile, results map[string]Result, log logrus.FieldLogger) []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	for i, p := range out {
		l := log.WithField("profile", p.Name)
		prev, ok := results[p.Name]
		if !ok {
			l.Debug("no previous result, using default seed")
			continue
		}
		if !p.Contains(prev.BestParams) {
			l.WithField("best", prev.BestParams).Warn("previous best is outside the search space, using default seed")
			continue
		}
		out[i].Seed = prev.BestParams
		l.WithField("seed", prev.BestParams).Info("seeded from previous results")
	}
	return out
}
