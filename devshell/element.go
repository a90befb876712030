package devshell

import (
	"github.com/ptcchamber/chamberlab/chamber"
	"github.com/ptcchamber/chamberlab/util"
)

const (
	// heatRate is the element temperature rise in C/s at full duty
	heatRate = 1.5
	// lossRate pulls the element toward the box temperature, 1/s
	lossRate = 0.02

	elementIntegralLimit = 20.0

	// MaxSafeTemperature cuts the element drive
	MaxSafeTemperature = 150.0
)

// elementFeedforward is the duty-vs-setpoint table of the PTC drive
func elementFeedforward() chamber.FeedforwardTable {
	return chamber.FeedforwardTable{
		{Temperature: 20, BaseSpeed: 0.18}, {Temperature: 25, BaseSpeed: 0.23}, {Temperature: 30, BaseSpeed: 0.27}, {Temperature: 40, BaseSpeed: 0.36}, {Temperature: 50, BaseSpeed: 0.46},
		{Temperature: 60, BaseSpeed: 0.55}, {Temperature: 70, BaseSpeed: 0.64}, {Temperature: 80, BaseSpeed: 0.73}, {Temperature: 90, BaseSpeed: 0.82}, {Temperature: 100, BaseSpeed: 0.91},
	}
}

// element is a first-order model of the PTC heater driven by its own PID
type element struct {
	temp  float64
	gains chamber.Gains
	ff    chamber.FeedforwardTable

	integral  float64
	prevError float64
	duty      float64
}

func (e *element) reset() {
	e.integral = 0
	e.prevError = 0
}

// step advances the element by dt seconds.  When drive is false the element
// is unpowered and relaxes toward ambient.
func (e *element) step(dt, ambient, setpoint float64, drive bool) {
	if !drive || e.temp >= MaxSafeTemperature {
		e.duty = 0
	} else {
		err := setpoint - e.temp
		e.integral = util.Clamp(e.integral+err*dt, -elementIntegralLimit, elementIntegralLimit)
		derivative := (err - e.prevError) / dt
		out := e.gains.Kp*err + e.gains.Ki*e.integral + e.gains.Kd*derivative
		e.duty = util.Clamp(out+e.ff.Interpolate(setpoint), 0, 1)
		e.prevError = err
	}
	e.temp += (e.duty*heatRate - (e.temp-ambient)*lossRate) * dt
}
