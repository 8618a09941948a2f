// Package units provides shared constants and conversions for distance units
package units

import "fmt"

// Unit constants
const (
	CM = "cm"
	M  = "m"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, M, IN}

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
	return "cm, m, in"
}

// ConvertDistance converts a distance in centimetres to the target units.
// Reports store overtaking distances in cm.
func ConvertDistance(cm float64, targetUnits string) float64 {
	switch targetUnits {
	case M:
		return cm / 100
	case IN:
		return cm / 2.54
	default:
		return cm
	}
}

// FormatDistance renders a cm distance in the target units with its suffix.
func FormatDistance(cm float64, targetUnits string) string {
	if !IsValid(targetUnits) {
		targetUnits = CM
	}
	v := ConvertDistance(cm, targetUnits)
	switch targetUnits {
	case M:
		return fmt.Sprintf("%.2f m", v)
	case IN:
		return fmt.Sprintf("%.1f in", v)
	default:
		return fmt.Sprintf("%.0f cm", v)
	}
}

// FormatKilometres renders a distance in metres as km with one decimal.
func FormatKilometres(meters float64) string {
	return fmt.Sprintf("%.1f km", meters/1000)
}
