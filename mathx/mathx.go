// Package mathx provides fixed-precision rounding for values reported to clients
package mathx

import "math"

// RoundPlaces rounds x to the given number of decimal places.
func RoundPlaces(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
