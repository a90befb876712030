// Package thermal exposes an HTTP interface to thermal controllers
package thermal

import (
	"github.com/ptcchamber/chamberlab/generichttp"
	"github.com/ptcchamber/chamberlab/server"
)

// Controller is an interface to a thermal controller with a single channel
type Controller interface {
	// GetTemperatureSetpoint gets the temperature setpoint in Celcius
	GetTemperatureSetpoint() (float64, error)

	// SetTemperatureSetpoint sets the temperature setpoint in Celcius
	SetTemperatureSetpoint(float64) error

	// GetTemperature gets the temperature in Celcius
	GetTemperature() (float64, error)
}

// CoolingForcer is a controller that can be held in forced cooling
type CoolingForcer interface {
	GetForcedCooling() (bool, error)
	SetForcedCooling(bool) error
}

// HTTPController binds routes to control temperature to the table.
// If c also implements CoolingForcer, /forced-cooling is bound too.
func HTTPController(c Controller, table server.RouteTable) {
	table[server.Get("/temperature")] = generichttp.GetFloat(c.GetTemperature)
	table[server.Get("/temperature-setpoint")] = generichttp.GetFloat(c.GetTemperatureSetpoint)
	table[server.Post("/temperature-setpoint")] = generichttp.SetFloat(c.SetTemperatureSetpoint)
	if f, ok := c.(CoolingForcer); ok {
		table[server.Get("/forced-cooling")] = generichttp.GetBool(f.GetForcedCooling)
		table[server.Post("/forced-cooling")] = generichttp.SetBool(f.SetForcedCooling)
	}
}

// HTTPThermal wraps a Controller in a route table
type HTTPThermal struct {
	RouteTable server.RouteTable
}

// NewHTTPThermal returns a route table bound to c
func NewHTTPThermal(c Controller) HTTPThermal {
	rt := server.RouteTable{}
	HTTPController(c, rt)
	return HTTPThermal{RouteTable: rt}
}

// RT satisfies server.HTTPer
func (h HTTPThermal) RT() server.RouteTable {
	return h.RouteTable
}
