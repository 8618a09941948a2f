// Package testutil provides shared fixtures for tests that feed sensor
// streams through the recorder and read the resulting trip logs back.
package testutil

import (
	"testing"

	"github.com/banshee-data/overtake.report/internal/cobs"
	"github.com/banshee-data/overtake.report/internal/obsproto"
)

// SensorSourceID is the clock source used by the fixture events.
const SensorSourceID = 1

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// DistanceEvent is a left-side distance reading taken at the given sensor
// uptime.
func DistanceEvent(seconds int64, meters float32) *obsproto.Event {
	return &obsproto.Event{
		Times:   []obsproto.Time{{SourceID: SensorSourceID, Seconds: seconds}},
		Payload: &obsproto.DistanceMeasurement{SourceID: SensorSourceID, Distance: meters},
	}
}

// PressEvent is an overtake button press at the given sensor uptime.
func PressEvent(seconds int64) *obsproto.Event {
	return &obsproto.Event{
		Times:   []obsproto.Time{{SourceID: SensorSourceID, Seconds: seconds}},
		Payload: &obsproto.UserInput{},
	}
}

// PhoneTime is a smartphone wall clock reading at sec Unix seconds.
func PhoneTime(sec float64) obsproto.Time {
	whole := int64(sec)
	return obsproto.Time{
		SourceID:    obsproto.SourceSmartphone,
		Reference:   obsproto.ReferenceUnix,
		Seconds:     whole,
		Nanoseconds: int32((sec - float64(whole)) * 1e9),
	}
}

// FixEvent is a location fix stamped with the phone clock.
func FixEvent(lat, lon, sec float64) *obsproto.Event {
	return &obsproto.Event{
		Times:   []obsproto.Time{PhoneTime(sec)},
		Payload: &obsproto.Geolocation{Latitude: lat, Longitude: lon},
	}
}

// WithPhoneTime adds a phone clock reading to ev, as the live session does
// for every sensor record.
func WithPhoneTime(ev *obsproto.Event, sec float64) *obsproto.Event {
	ev.Times = append(ev.Times, PhoneTime(sec))
	return ev
}

// Ride returns n fixes one second apart heading north about 5.5 m per fix,
// the first at start Unix seconds.
func Ride(start float64, n int) []*obsproto.Event {
	out := make([]*obsproto.Event, n)
	for i := range out {
		out[i] = FixEvent(48.0+float64(i)*0.00005, 11.0, start+float64(i))
	}
	return out
}

// SensorStream encodes events as the COBS framed byte stream the sensor
// sends over its serial link.
func SensorStream(t testing.TB, events ...*obsproto.Event) []byte {
	t.Helper()
	var out []byte
	for _, ev := range events {
		b, err := ev.Marshal()
		AssertNoError(t, err)
		out = cobs.AppendFrame(out, b)
	}
	return out
}

// DecodeLog splits a trip log into its events.
func DecodeLog(t testing.TB, log []byte) []*obsproto.Event {
	t.Helper()
	var out []*obsproto.Event
	for _, frame := range cobs.SplitFrames(log) {
		ev, err := obsproto.Unmarshal(cobs.Unstuff(frame))
		AssertNoError(t, err)
		out = append(out, ev)
	}
	return out
}
