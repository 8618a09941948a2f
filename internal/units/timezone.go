package units

import (
	"fmt"
	"time"
)

// DefaultTimezone is used when no display timezone is configured.
const DefaultTimezone = "UTC"

// IsTimezoneValid checks if the given timezone is valid by attempting to load it from the tz database
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// ConvertTime converts a UTC time to the specified timezone.
// Trip timestamps are stored in UTC; this converts them for display.
func ConvertTime(utcTime time.Time, targetTimezone string) (time.Time, error) {
	if targetTimezone == "" || targetTimezone == DefaultTimezone {
		return utcTime.UTC(), nil
	}

	loc, err := time.LoadLocation(targetTimezone)
	if err != nil {
		return utcTime, fmt.Errorf("failed to load timezone %s: %w", targetTimezone, err)
	}
	return utcTime.In(loc), nil
}

// FormatTripTime renders t in the target timezone, falling back to UTC when
// the timezone cannot be loaded.
func FormatTripTime(t time.Time, targetTimezone string) string {
	local, err := ConvertTime(t, targetTimezone)
	if err != nil {
		local = t.UTC()
	}
	return local.Format("2006-01-02 15:04:05 MST")
}
