package track

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/overtake.report/internal/cobs"
	"github.com/banshee-data/overtake.report/internal/obsproto"
)

// t0 is an arbitrary plausible Unix time (2023-11-14).
const t0 = 1_700_000_000

func phoneAt(sec float64) obsproto.Time {
	return unixAt(obsproto.SourceSmartphone, sec)
}

func unixAt(source int32, sec float64) obsproto.Time {
	whole := int64(sec)
	return obsproto.Time{
		SourceID:    source,
		Reference:   obsproto.ReferenceUnix,
		Seconds:     whole,
		Nanoseconds: int32((sec - float64(whole)) * 1e9),
	}
}

func sensorAt(sec float64) obsproto.Time {
	whole := int64(sec)
	return obsproto.Time{
		SourceID:    1,
		Reference:   obsproto.ReferenceArbitrary,
		Seconds:     whole,
		Nanoseconds: int32((sec - float64(whole)) * 1e9),
	}
}

type logBuilder struct {
	t   *testing.T
	buf []byte
}

func newLog(t *testing.T) *logBuilder {
	return &logBuilder{t: t}
}

func (b *logBuilder) add(p obsproto.Payload, times ...obsproto.Time) *logBuilder {
	b.t.Helper()
	raw, err := (&obsproto.Event{Times: times, Payload: p}).Marshal()
	require.NoError(b.t, err)
	b.buf = cobs.AppendFrame(b.buf, raw)
	return b
}

func (b *logBuilder) fix(lat, lon float64, times ...obsproto.Time) *logBuilder {
	return b.add(&obsproto.Geolocation{Latitude: lat, Longitude: lon}, times...)
}

func (b *logBuilder) distance(source int32, meters float32, times ...obsproto.Time) *logBuilder {
	return b.add(&obsproto.DistanceMeasurement{SourceID: source, Distance: meters}, times...)
}

func (b *logBuilder) press(times ...obsproto.Time) *logBuilder {
	return b.add(&obsproto.UserInput{}, times...)
}

// straightRide adds n fixes one second apart, heading north about 5.5 m per
// fix, starting at t0+start.
func (b *logBuilder) straightRide(n int, start float64) *logBuilder {
	for i := 0; i < n; i++ {
		b.fix(48.0+float64(i)*0.00005, 11.0, phoneAt(t0+start+float64(i)))
	}
	return b
}

func (b *logBuilder) bytes() []byte { return b.buf }
