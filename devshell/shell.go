/*Package devshell is a stand-in for the chamber controller's msh console.

It speaks the same newline-terminated command protocol as the firmware over
TCP, so the tuning harness and the raw console can be exercised without a
board on the bench:

	tune target <v>
	tune heat <kp|ki|kd> <v>
	force_state <warming|heating|cooling>
	get_status
	eval_ptc <target> <duration_ms>

Behind the console is one chamber.Simulator for the box and a first-order
model of the PTC element, advanced on a ticker.  Simulated time can run
faster than the wall clock so a three minute evaluation finishes in seconds.
*/
package devshell

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
)

// Prompt terminates every response burst
const Prompt = "msh >"

// eval_ptc duration limits, in ms
const (
	MinEvalMillis = 500
	MaxEvalMillis = 300000

	// NoSampleScore is reported when an evaluation collected nothing
	NoSampleScore = 999999.0
)

// State is the firmware control state
type State string

const (
	// Warming holds the element near the target
	Warming = State("WARMING")
	// Heating drives the element toward the target
	Heating = State("HEATING")
	// Cooling cuts the element and runs the fan
	Cooling = State("COOLING")
)

// element setpoint offset above the target, per state
var bias = map[State]float64{
	Warming: 10,
	Heating: 25,
}

var states = map[string]State{
	"warming": Warming,
	"heating": Heating,
	"cooling": Cooling,
}

// evaluation accumulates the time-weighted absolute error of the element
type evaluation struct {
	target   float64
	duration float64 // sim seconds
	elapsed  float64
	sum      float64
	done     chan float64
}

func (ev *evaluation) add(err, dt float64) bool {
	ev.sum += math.Abs(err) * dt
	ev.elapsed += dt
	return ev.elapsed >= ev.duration
}

func (ev *evaluation) score() float64 {
	if ev.elapsed == 0 {
		return NoSampleScore
	}
	return ev.sum / ev.elapsed
}

// Shell is the simulated controller.  It is safe for concurrent use.
type Shell struct {
	mu     sync.Mutex
	sim    *chamber.Simulator
	ptc    element
	state  State
	target float64
	evals  []*evaluation

	// Speedup multiplies simulated time relative to the wall clock
	Speedup float64
	// Tick is the wall-clock period of the simulation loop
	Tick time.Duration

	log logrus.FieldLogger
}

// New creates a shell at power-on: WARMING toward 40 C with the element at
// room temperature
func New(log logrus.FieldLogger, opts ...chamber.Option) *Shell {
	sim := chamber.New(time.Now(), opts...)
	sh := &Shell{
		sim: sim,
		ptc: element{
			temp:  sim.Temperature(),
			gains: chamber.Gains{Kp: 1.37, Ki: 0.10, Kd: 0.8},
			ff:    elementFeedforward(),
		},
		state:   Warming,
		target:  40,
		Speedup: 1,
		Tick:    100 * time.Millisecond,
		log:     log.WithField("component", "devshell"),
	}
	sim.SetTarget(sh.target, true)
	return sh
}

// Advance moves the simulation forward by dt simulated seconds
func (sh *Shell) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sim.Advance(dt)
	sh.ptc.step(dt, sh.sim.Temperature(), sh.target+bias[sh.state], sh.state != Cooling)

	kept := sh.evals[:0]
	for _, ev := range sh.evals {
		if ev.add(sh.ptc.temp-ev.target, dt) {
			ev.done <- ev.score()
			continue
		}
		kept = append(kept, ev)
	}
	sh.evals = kept
}

// Exec runs one command line.  If the command started an evaluation, the
// returned channel yields its score once enough simulated time has passed.
func (sh *Shell) Exec(line string) ([]string, <-chan float64) {
	args, err := shlex.Split(line)
	if err != nil {
		return []string{fmt.Sprintf("Error: %v", err)}, nil
	}
	if len(args) == 0 {
		return nil, nil
	}
	sh.log.WithField("cmd", args[0]).Debug("exec")

	sh.mu.Lock()
	defer sh.mu.Unlock()
	switch args[0] {
	case "get_status":
		return sh.status(), nil
	case "tune":
		return sh.tune(args), nil
	case "force_state":
		return sh.forceState(args), nil
	case "eval_ptc":
		return sh.evalPTC(args)
	}
	return []string{fmt.Sprintf("%s: command not found.", args[0])}, nil
}

func (sh *Shell) status() []string {
	st := sh.sim.Status()
	g := sh.ptc.gains
	return []string{
		"----- System Status -----",
		fmt.Sprintf("State:                %s", sh.state),
		fmt.Sprintf("Box Temp:             %.2f C", sh.sim.Temperature()),
		fmt.Sprintf("Target Temp:          %.2f C", sh.target),
		fmt.Sprintf("PTC Temp:             %.2f C", sh.ptc.temp),
		fmt.Sprintf("Humidity:             %.1f %%", st.CurrentHumidity),
		fmt.Sprintf("PWM Duty Cycle:       %.1f %%", sh.ptc.duty*100),
		fmt.Sprintf("Fan Speed:            %.1f %%", st.FanSpeedPercent),
		"",
		"----- PID Controllers -----",
		fmt.Sprintf("Heating/Idle PID%s", sh.activeMark(sh.state != Cooling)),
		fmt.Sprintf("  Gains:    Kp=%.3f, Ki=%.3f, Kd=%.3f", g.Kp, g.Ki, g.Kd),
		fmt.Sprintf("  Internal: I-Term=%.3f, Prev-Err=%.3f", sh.ptc.integral, sh.ptc.prevError),
	}
}

func (sh *Shell) activeMark(active bool) string {
	if active {
		return " (ACTIVE)"
	}
	return ""
}

func tuneUsage() []string {
	return []string{
		"",
		"----- Usage -----",
		"  tune target <val>          (Set target temperature in C)",
		"  tune heat <kp|ki|kd> <val> (Tune heating/warming PID)",
		"",
	}
}

func (sh *Shell) tune(args []string) []string {
	if len(args) < 2 {
		return tuneUsage()
	}
	var out []string
	switch args[1] {
	case "target":
		if len(args) != 3 {
			return []string{"Usage: tune target <value>"}
		}
		v, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return []string{fmt.Sprintf("Error: Invalid value '%s'", args[2])}
		}
		sh.target = v
		sh.sim.SetTarget(v, true)
		out = append(out, fmt.Sprintf("Target temperature set to %.2f C", v))
	case "heat":
		if len(args) != 4 {
			return []string{"Usage: tune heat <kp|ki|kd> <value>"}
		}
		v, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return []string{fmt.Sprintf("Error: Invalid value '%s'", args[3])}
		}
		switch args[2] {
		case "kp":
			sh.ptc.gains.Kp = v
		case "ki":
			sh.ptc.gains.Ki = v
		case "kd":
			sh.ptc.gains.Kd = v
		default:
			return []string{fmt.Sprintf("Error: Unknown heat param '%s'. Use kp, ki, or kd.", args[2])}
		}
		out = append(out, fmt.Sprintf("Heat PID '%s' set to %f", args[2], v))
	default:
		return []string{fmt.Sprintf("Error: Unknown command '%s'", args[1])}
	}
	out = append(out, "", "Parameters updated. Current status:")
	return append(out, sh.status()...)
}

func (sh *Shell) forceState(args []string) []string {
	if len(args) != 2 {
		return []string{"Usage: force_state <warming|heating|cooling>"}
	}
	next, ok := states[args[1]]
	if !ok {
		return []string{fmt.Sprintf("Error: Unknown state '%s'. Use warming, heating, or cooling.", args[1])}
	}
	if next == sh.state {
		return []string{fmt.Sprintf("State is already %s. No change made.", args[1])}
	}
	prev := sh.state
	sh.setState(next)
	return []string{fmt.Sprintf("State forced from %s to %s", prev, next)}
}

// setState switches state and clears the PID memory; callers hold mu
func (sh *Shell) setState(next State) {
	sh.state = next
	sh.ptc.reset()
	sh.sim.ForceCooling(next == Cooling)
}

func (sh *Shell) evalPTC(args []string) ([]string, <-chan float64) {
	if len(args) != 3 {
		return []string{"Usage: eval_ptc <target_temp> <duration_ms>"}, nil
	}
	target, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return []string{fmt.Sprintf("Error: Invalid value '%s'", args[1])}, nil
	}
	ms, err := strconv.Atoi(args[2])
	if err != nil || ms < MinEvalMillis || ms > MaxEvalMillis {
		return []string{"Error: Duration must be between 500 and 300000 ms."}, nil
	}

	sh.target = target
	sh.sim.SetTarget(target, true)
	sh.setState(Warming)
	ev := &evaluation{
		target:   target,
		duration: float64(ms) / 1000,
		done:     make(chan float64, 1),
	}
	sh.evals = append(sh.evals, ev)
	return []string{fmt.Sprintf("Starting PTC evaluation: Target=%.2f C, Duration=%d ms", target, ms)}, ev.done
}

// State returns the control state
func (sh *Shell) State() State {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.state
}

// Temperatures returns the element and box temperatures
func (sh *Shell) Temperatures() (ptc, box float64) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.ptc.temp, sh.sim.Temperature()
}

// GetTemperature returns the box temperature
func (sh *Shell) GetTemperature() (float64, error) {
	_, box := sh.Temperatures()
	return box, nil
}

// GetTemperatureSetpoint returns the target temperature
func (sh *Shell) GetTemperatureSetpoint() (float64, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.target, nil
}

// SetTemperatureSetpoint is "tune target"
func (sh *Shell) SetTemperatureSetpoint(v float64) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.target = v
	sh.sim.SetTarget(v, true)
	return nil
}

// GetForcedCooling reports whether the shell is in COOLING
func (sh *Shell) GetForcedCooling() (bool, error) {
	return sh.State() == Cooling, nil
}

// SetForcedCooling is "force_state cooling" or "force_state warming"
func (sh *Shell) SetForcedCooling(on bool) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	next := Warming
	if on {
		next = Cooling
	}
	if next != sh.state {
		sh.setState(next)
	}
	return nil
}
