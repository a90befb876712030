// Package temperature holds temperature unit types and conversions
package temperature

import (
	"fmt"
	"strconv"
	"strings"
)

type (
	// Celsius is a temperature in C
	Celsius float64

	// Kelvin is a temperature in K
	Kelvin float64

	// Fahrenheit is a temperature in deg F
	Fahrenheit float64
)

// K2C converts a temp in Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - 273.15)
}

// F2C converts a temp in Fahrenheit to Celcius
func F2C(f Fahrenheit) Celsius {
	return Celsius((f - 32) * 5 / 9)
}

// ParseCelsius converts a reading such as "45.20" or "45.20 C" or "318.35K"
// into Celsius.  A missing unit is taken to be Celsius.
func ParseCelsius(s string) (Celsius, error) {
	s = strings.TrimSpace(s)
	unit := "C"
	if n := len(s); n > 0 {
		switch last := strings.ToUpper(s[n-1:]); last {
		case "C", "F", "K":
			unit = last
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s[:n-1]), "°"))
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "K":
		return K2C(Kelvin(v)), nil
	case "F":
		return F2C(Fahrenheit(v)), nil
	case "C":
		return Celsius(v), nil
	}
	return 0, fmt.Errorf("do not know how to convert unit %s to Celcius", unit)
}
