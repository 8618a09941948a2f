// Package obsproto holds the EventRecord schema exchanged with the OBS sensor
// and stored in trip logs, together with its protobuf wire codec.
//
// The wire layout follows the OpenBikeSensor event message:
//
//	message Time  { int32 source_id = 1; Reference reference = 2; int64 seconds = 3; int32 nanoseconds = 4; }
//	message Event { repeated Time time = 1;
//	                oneof content { Geolocation geolocation = 10; DistanceMeasurement distance_measurement = 11;
//	                                UserInput user_input = 12; TextMessage text_message = 13;
//	                                BatteryStatus battery_status = 15; } }
//
// Content variants this package does not model are preserved as Other so
// they can be re-emitted byte-for-byte.
package obsproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Reference identifies the epoch a Time reading is relative to.
type Reference int32

const (
	ReferenceArbitrary Reference = 0
	ReferenceUnix      Reference = 1
	ReferenceGPS       Reference = 2
)

func (r Reference) String() string {
	switch r {
	case ReferenceArbitrary:
		return "ARBITRARY"
	case ReferenceUnix:
		return "UNIX"
	case ReferenceGPS:
		return "GPS"
	default:
		return fmt.Sprintf("Reference(%d)", int32(r))
	}
}

// Well-known clock source IDs.
const (
	// SourceSmartphone is the recording phone's wall clock.
	SourceSmartphone int32 = 3
)

// Well-known distance source IDs.
const (
	// SourceOvertaker is the left-facing channel that measures passing
	// vehicles. Only this channel feeds the rolling median.
	SourceOvertaker int32 = 1
)

// Time is one clock reading attached to an event.
type Time struct {
	SourceID    int32
	Reference   Reference
	Seconds     int64
	Nanoseconds int32
}

// Float returns the reading in fractional seconds.
func (t Time) Float() float64 {
	return float64(t.Seconds) + float64(t.Nanoseconds)/1e9
}

// UnixMilliTime builds a Unix-referenced reading from epoch milliseconds.
func UnixMilliTime(ms int64, sourceID int32) Time {
	return Time{
		SourceID:    sourceID,
		Reference:   ReferenceUnix,
		Seconds:     ms / 1000,
		Nanoseconds: int32((ms % 1000) * 1_000_000),
	}
}

// Payload is the content variant of an Event. The set of implementations is
// closed to this package.
type Payload interface {
	fieldNumber() protowire.Number
	appendBody(b []byte) []byte
	// Kind names the variant for logs.
	Kind() string
}

// DistanceMeasurement is one ultrasonic echo distance in meters.
type DistanceMeasurement struct {
	SourceID int32
	Distance float32
}

// Geolocation is a GNSS fix.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	HDOP      float32
}

// UserInput is a manual button press.
type UserInput struct {
	Type int32
}

// TextMessage is a free-form diagnostic message from the sensor.
type TextMessage struct {
	Type int32
	Text string
}

// BatteryStatus reports the sensor supply voltage.
type BatteryStatus struct {
	Voltage float32
}

// Other is a content variant without a dedicated type. Raw holds the
// encoded sub-message exactly as received.
type Other struct {
	Field protowire.Number
	Raw   []byte
}

func (*DistanceMeasurement) Kind() string { return "distance_measurement" }
func (*Geolocation) Kind() string         { return "geolocation" }
func (*UserInput) Kind() string           { return "user_input" }
func (*TextMessage) Kind() string         { return "text_message" }
func (*BatteryStatus) Kind() string       { return "battery_status" }
func (o *Other) Kind() string             { return fmt.Sprintf("content_%d", o.Field) }

// Event is a single EventRecord: one payload plus the clock readings that
// timestamp it.
type Event struct {
	Times   []Time
	Payload Payload
}

// TimeFrom returns the first reading from the given clock.
func (e *Event) TimeFrom(sourceID int32, ref Reference) (Time, bool) {
	for _, t := range e.Times {
		if t.SourceID == sourceID && t.Reference == ref {
			return t, true
		}
	}
	return Time{}, false
}

// MergeTime replaces any reading from t's clock with t, keeping readings
// from other clocks in order.
func (e *Event) MergeTime(t Time) {
	kept := e.Times[:0:0]
	for _, existing := range e.Times {
		if existing.SourceID == t.SourceID && existing.Reference == t.Reference {
			continue
		}
		kept = append(kept, existing)
	}
	e.Times = append(kept, t)
}

// Distance returns the payload as a DistanceMeasurement, if it is one.
func (e *Event) Distance() (*DistanceMeasurement, bool) {
	d, ok := e.Payload.(*DistanceMeasurement)
	return d, ok
}

// Geolocation returns the payload as a Geolocation, if it is one.
func (e *Event) Geolocation() (*Geolocation, bool) {
	g, ok := e.Payload.(*Geolocation)
	return g, ok
}

// IsUserInput reports whether the payload is a button press.
func (e *Event) IsUserInput() bool {
	_, ok := e.Payload.(*UserInput)
	return ok
}
