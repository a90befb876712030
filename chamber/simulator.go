package chamber

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/ptcchamber/chamberlab/util"
)

// Relay is the state of a PTC heater relay
type Relay string

// ControlState is the mode the controller is in
type ControlState string

const (
	// On is an energized relay
	On = Relay("ON")
	// Off is a released relay
	Off = Relay("OFF")

	// Heating means the chamber is below the hysteresis band
	Heating = ControlState("HEATING")
	// Cooling means the chamber is above the hysteresis band
	Cooling = ControlState("COOLING")
	// Idle means the chamber is inside the hysteresis band
	Idle = ControlState("IDLE")
)

// limits of the simulation
const (
	HysteresisBand = 0.5
	IntegralLimit  = 200.0
	PIDOutputLimit = 0.5

	MinTemperature = -10.0
	MaxTemperature = 120.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0

	// bottom plate heater cycles on for the first 10 s of every 30 s
	bottomPeriod = 30
	bottomOnFor  = 10

	minStep = 1e-3
)

// ErrBadIndex is returned when a feedforward table index is out of range
var ErrBadIndex = errors.New("feedforward index out of bounds")

// Simulator holds the approximate plant and controller state of the chamber
type Simulator struct {
	temperature float64
	target      float64
	humidity    float64
	env         float64

	ptc       Relay
	bottomPTC Relay
	control   ControlState

	gains       Gains
	integral    float64
	prevError   float64
	pidOutput   float64
	feedforward float64

	schedule GainSchedule
	ff       FeedforwardTable

	forcedCooling bool

	elapsed float64 // simulated seconds since start
	last    time.Time
	rng     *rand.Rand
}

// Option configures a Simulator
type Option func(*Simulator)

// WithRand sets the noise source, use a seeded source for reproducible runs
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rng = r }
}

// WithSchedule replaces the default gain schedule
func WithSchedule(gs GainSchedule) Option {
	return func(s *Simulator) { s.schedule = gs }
}

// WithFeedforward replaces the default feedforward table
func WithFeedforward(ff FeedforwardTable) Option {
	return func(s *Simulator) { s.ff = ff.Clone() }
}

// WithTemperatures sets the initial chamber and environment temperatures
func WithTemperatures(chamber, env float64) Option {
	return func(s *Simulator) {
		s.temperature = chamber
		s.env = env
	}
}

// New creates a Simulator in the power-on state, with time starting at start
func New(start time.Time, opts ...Option) *Simulator {
	s := &Simulator{
		temperature: 25.0,
		target:      37.0,
		humidity:    50.0,
		env:         22.0,
		ptc:         Off,
		bottomPTC:   Off,
		control:     Idle,
		schedule:    DefaultGainSchedule(),
		ff:          DefaultFeedforward(),
		last:        start,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(start.UnixNano()))
	}
	s.gains = s.schedule.Interpolate(s.target)
	s.feedforward = s.ff.Interpolate(s.target)
	return s
}

// Step advances the simulation to now using wall-clock time
func (s *Simulator) Step(now time.Time) {
	dt := now.Sub(s.last).Seconds()
	s.last = now
	s.Advance(dt)
}

// Advance moves the simulation forward by dt simulated seconds
func (s *Simulator) Advance(dt float64) {
	dt = math.Max(dt, minStep)
	s.elapsed += dt

	// sensor noise and drift
	s.humidity += (s.rng.Float64() - 0.5) * 0.05
	s.env += (s.rng.Float64() - 0.5) * 0.02

	err := s.target - s.temperature
	switch {
	case s.forcedCooling:
		s.ptc = Off
		s.control = Cooling
	case err > HysteresisBand:
		s.ptc = On
		s.control = Heating
	case err < -HysteresisBand:
		s.ptc = Off
		s.control = Cooling
	default:
		s.control = Idle
	}

	if int(s.elapsed)%bottomPeriod < bottomOnFor {
		s.bottomPTC = On
	} else {
		s.bottomPTC = Off
	}

	if s.forcedCooling {
		s.integral = 0
		s.pidOutput = 0
	} else {
		s.integral = util.Clamp(s.integral+err*dt, -IntegralLimit, IntegralLimit)
		derivative := (err - s.prevError) / dt
		raw := s.gains.Kp*err + s.gains.Ki*s.integral + s.gains.Kd*derivative
		s.pidOutput = util.Clamp(raw, -PIDOutputLimit, PIDOutputLimit)
	}
	s.prevError = err

	s.feedforward = util.Clamp(s.ff.Interpolate(s.target), 0, 1)
	fan := s.FanSpeed()

	// simple plant model: heat plus fan cooling plus environment pull
	heater := -0.05
	if s.ptc == On {
		heater = 0.12
	}
	fanEffect := -0.15 * fan
	ambient := (s.env - s.temperature) * 0.02
	noise := (s.rng.Float64() - 0.5) * 0.04
	s.temperature += (heater + fanEffect + ambient + noise) * dt
	s.temperature += util.Clamp(err*0.08, -0.25, 0.25) * dt
	s.temperature = util.Clamp(s.temperature, MinTemperature, MaxTemperature)
	s.humidity = util.Clamp(s.humidity, MinHumidity, MaxHumidity)
}

// FanSpeed is the commanded fan duty in [0,1]
func (s *Simulator) FanSpeed() float64 {
	if s.forcedCooling {
		return 1
	}
	return util.Clamp(s.feedforward+s.pidOutput, 0, 1)
}

// Temperature is the chamber (box) temperature in C
func (s *Simulator) Temperature() float64 { return s.temperature }

// Target is the target temperature in C
func (s *Simulator) Target() float64 { return s.target }

// Gains returns the active PID gains
func (s *Simulator) Gains() Gains { return s.gains }

// Heater returns the state of the main PTC relay
func (s *Simulator) Heater() Relay { return s.ptc }

// Control returns the control state
func (s *Simulator) Control() ControlState { return s.control }

// Elapsed returns simulated seconds since start
func (s *Simulator) Elapsed() float64 { return s.elapsed }

// Feedforward returns the live feedforward table
func (s *Simulator) Feedforward() FeedforwardTable { return s.ff }

// SetGains overrides the PID gains until the next target change
func (s *Simulator) SetGains(g Gains) {
	s.gains = g
}

// SetTarget changes the target temperature.  If reschedule is true the gains
// are replaced with the scheduled gains for the new target.
func (s *Simulator) SetTarget(target float64, reschedule bool) {
	s.target = target
	if reschedule {
		s.gains = s.schedule.Interpolate(target)
	}
	s.RefreshFeedforward()
}

// SetFeedforward updates one feedforward entry and recomputes the
// feedforward speed for the current target
func (s *Simulator) SetFeedforward(idx int, temp, speed float64) error {
	if err := s.ff.Set(idx, temp, speed); err != nil {
		return err
	}
	s.RefreshFeedforward()
	return nil
}

// RefreshFeedforward recomputes the feedforward speed at the current target
func (s *Simulator) RefreshFeedforward() {
	s.feedforward = util.Clamp(s.ff.Interpolate(s.target), 0, 1)
}

// ForceCooling holds the chamber in COOLING with the heater off and the fan
// at full speed, as the firmware does for "force_state cooling".
func (s *Simulator) ForceCooling(on bool) {
	s.forcedCooling = on
	if on {
		s.ptc = Off
		s.control = Cooling
	}
}

// Forced reports whether cooling is being forced
func (s *Simulator) Forced() bool { return s.forcedCooling }
