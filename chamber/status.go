package chamber

import "github.com/ptcchamber/chamberlab/mathx"

// Status is the message broadcast to the front-end every tick
type Status struct {
	CurrentTemperature float64      `json:"current_temperature"`
	TargetTemperature  float64      `json:"target_temperature"`
	CurrentHumidity    float64      `json:"current_humidity"`
	EnvTemperature     float64      `json:"env_temperature"`
	PTCState           Relay        `json:"ptc_state"`
	BottomPTCState     Relay        `json:"btm_ptc_state"`
	ControlState       ControlState `json:"control_state"`
	FanSpeed           float64      `json:"fan_speed"`
	FanSpeedPercent    float64      `json:"fan_speed_percent"`
	FeedforwardSpeed   float64      `json:"feedforward_speed"`
	PIDOutput          float64      `json:"pid_output"`
	Kp                 float64      `json:"pid_kp"`
	Ki                 float64      `json:"pid_ki"`
	Kd                 float64      `json:"pid_kd"`
	IntegralError      float64      `json:"integral_error"`
	PreviousError      float64      `json:"previous_error"`
}

// Console is the message carrying text responses to console commands
type Console struct {
	Lines []string `json:"console"`

	// Timestamp is seconds since the connection started
	Timestamp float64 `json:"timestamp"`
}

// NewConsole stamps lines with the seconds elapsed since the session started
func NewConsole(lines []string, sinceStart float64) Console {
	return Console{Lines: lines, Timestamp: mathx.RoundPlaces(sinceStart, 3)}
}

// Status snapshots the state with the fixed precision the front-end expects
func (s *Simulator) Status() Status {
	fan := s.FanSpeed()
	r := mathx.RoundPlaces
	return Status{
		CurrentTemperature: r(s.temperature, 2),
		TargetTemperature:  r(s.target, 2),
		CurrentHumidity:    r(s.humidity, 1),
		EnvTemperature:     r(s.env, 2),
		PTCState:           s.ptc,
		BottomPTCState:     s.bottomPTC,
		ControlState:       s.control,
		FanSpeed:           r(fan, 4),
		FanSpeedPercent:    r(fan*100, 2),
		FeedforwardSpeed:   r(s.feedforward, 4),
		PIDOutput:          r(s.pidOutput, 4),
		Kp:                 r(s.gains.Kp, 6),
		Ki:                 r(s.gains.Ki, 6),
		Kd:                 r(s.gains.Kd, 6),
		IntegralError:      r(s.integral, 4),
		PreviousError:      r(s.prevError, 4),
	}
}
