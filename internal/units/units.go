// Package units converts the speeds a receiver reports and the track stores.
// Stored speeds are always metres per second.
package units

import "strings"

// Unit constants
const (
	MPS   = "mps"
	MPH   = "mph"
	KMPH  = "kmph"
	KPH   = "kph"
	KNOTS = "knots"
)

// knotMPS is one international knot in metres per second.
const knotMPS = 1852.0 / 3600.0

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH, KNOTS}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// KnotsToMPS converts an NMEA speed over ground to metres per second.
func KnotsToMPS(knots float64) float64 {
	return knots * knotMPS
}

// ConvertSpeed converts a speed from meters per second to the target units
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	case KNOTS:
		return speedMPS / knotMPS
	default:
		return speedMPS
	}
}
