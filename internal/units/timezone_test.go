package units

import (
	"testing"
	"time"
)

func TestIsTimezoneValid(t *testing.T) {
	tests := []struct {
		tz   string
		want bool
	}{
		{"UTC", true},
		{"Europe/Berlin", true},
		{"", false},
		{"Mars/Olympus_Mons", false},
	}
	for _, tt := range tests {
		if got := IsTimezoneValid(tt.tz); got != tt.want {
			t.Errorf("IsTimezoneValid(%q) = %v, want %v", tt.tz, got, tt.want)
		}
	}
}

func TestConvertTime(t *testing.T) {
	utcTime := time.Date(2025, 9, 13, 12, 0, 0, 0, time.UTC)

	out, err := ConvertTime(utcTime, "UTC")
	if err != nil || !out.Equal(utcTime) {
		t.Fatalf("ConvertTime(UTC) = %v, %v", out, err)
	}

	out, err = ConvertTime(utcTime, "Europe/Berlin")
	if err != nil {
		t.Fatalf("ConvertTime error: %v", err)
	}
	if out.Hour() != 14 {
		t.Errorf("Berlin hour = %d, want 14 (CEST)", out.Hour())
	}

	if _, err := ConvertTime(utcTime, "Nowhere/City"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestFormatTripTime(t *testing.T) {
	utcTime := time.Date(2025, 9, 13, 12, 0, 0, 0, time.UTC)
	if got := FormatTripTime(utcTime, "Nowhere/City"); got != "2025-09-13 12:00:00 UTC" {
		t.Errorf("FormatTripTime fallback = %q", got)
	}
	if got := FormatTripTime(utcTime, ""); got != "2025-09-13 12:00:00 UTC" {
		t.Errorf("FormatTripTime default = %q", got)
	}
}
