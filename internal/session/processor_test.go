package session

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/overtake.report/internal/cobs"
	"github.com/banshee-data/overtake.report/internal/monitoring"
	"github.com/banshee-data/overtake.report/internal/obsproto"
	"github.com/banshee-data/overtake.report/internal/timeutil"
)

var sessionStart = time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)

func quietLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func newTestProcessor(t *testing.T) (*Processor, *timeutil.MockClock) {
	t.Helper()
	quietLogs(t)
	clock := timeutil.NewMockClock(sessionStart)
	return NewProcessor(clock, Options{}), clock
}

func sensorTime(sec int64) obsproto.Time {
	return obsproto.Time{SourceID: 1, Reference: obsproto.ReferenceArbitrary, Seconds: sec}
}

func frame(t *testing.T, ev *obsproto.Event) []byte {
	t.Helper()
	b, err := ev.Marshal()
	require.NoError(t, err)
	return cobs.AppendFrame(nil, b)
}

func distanceFrame(t *testing.T, source int32, meters float32, sec int64) []byte {
	return frame(t, &obsproto.Event{
		Times:   []obsproto.Time{sensorTime(sec)},
		Payload: &obsproto.DistanceMeasurement{SourceID: source, Distance: meters},
	})
}

func pressFrame(t *testing.T, sec int64) []byte {
	return frame(t, &obsproto.Event{
		Times:   []obsproto.Time{sensorTime(sec)},
		Payload: &obsproto.UserInput{},
	})
}

func decodeAll(t *testing.T, log []byte) []*obsproto.Event {
	t.Helper()
	var out []*obsproto.Event
	for _, f := range cobs.SplitFrames(log) {
		ev, err := obsproto.Unmarshal(cobs.Unstuff(f))
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestCorrectedCm(t *testing.T) {
	tests := []struct {
		name      string
		meters    float32
		handlebar int
		want      int
	}{
		{"typical", 1.20, 60, 90},
		{"clamped to zero", 0.10, 80, 0},
		{"exactly handlebar", 0.30, 60, 0},
		{"odd handlebar rounds half up", 1.00, 61, 70},
		{"float32 noise", 1.10, 60, 80},
		{"NaN", float32(math.NaN()), 60, 0},
		{"positive infinity", float32(math.Inf(1)), 60, math.MaxInt32},
		{"negative infinity", float32(math.Inf(-1)), 60, 0},
		{"beyond int32", 3e30, 60, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CorrectedCm(tt.meters, tt.handlebar))
		})
	}
}

func TestConsumeOneFrame_Empty(t *testing.T) {
	p, _ := newTestProcessor(t)
	out, ok := p.ConsumeOneFrame(Location{}, 60)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestConsumeOneFrame_IncompleteHeadStays(t *testing.T) {
	p, _ := newTestProcessor(t)
	f := distanceFrame(t, 1, 1.5, 10)

	p.OnTransportBytes(f[:len(f)-1])
	assert.False(t, p.HasCompleteFrame())
	_, ok := p.ConsumeOneFrame(Location{}, 60)
	assert.False(t, ok)
	assert.Equal(t, 1, p.Stats().QueueDepth)

	p.OnTransportBytes(f[len(f)-1:])
	assert.True(t, p.HasCompleteFrame())
	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	assert.Len(t, decodeAll(t, out), 1)
	assert.Equal(t, 0, p.Stats().QueueDepth)
}

func TestConsumeOneFrame_BadFrameDropped(t *testing.T) {
	p, _ := newTestProcessor(t)

	// 0x5A claims a 127 byte sub-message that is not there.
	p.OnTransportBytes(cobs.AppendFrame(nil, []byte{0x5A, 0x7F}))
	p.OnTransportBytes([]byte{0x00}) // empty frame
	p.OnTransportBytes(distanceFrame(t, 1, 1.0, 1))

	_, ok := p.ConsumeOneFrame(Location{}, 60)
	assert.False(t, ok)
	_, ok = p.ConsumeOneFrame(Location{}, 60)
	assert.False(t, ok)
	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok, "a bad frame must not stall the frames behind it")
	assert.Len(t, decodeAll(t, out), 1)

	s := p.Stats()
	assert.Equal(t, int64(2), s.FramesDropped)
	assert.Equal(t, int64(1), s.RecordsEmitted)
	assert.Equal(t, int64(len(out)), s.BytesEmitted)
}

func TestConsumeOneFrame_MergesPhoneTime(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.OnTransportBytes(distanceFrame(t, 2, 0.75, 42))

	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	events := decodeAll(t, out)
	require.Len(t, events, 1)

	ev := events[0]
	dm, ok := ev.Distance()
	require.True(t, ok)
	assert.Equal(t, &obsproto.DistanceMeasurement{SourceID: 2, Distance: 0.75}, dm, "distance is archived uncorrected")

	sensor, ok := ev.TimeFrom(1, obsproto.ReferenceArbitrary)
	require.True(t, ok)
	assert.Equal(t, int64(42), sensor.Seconds)

	phone, ok := ev.TimeFrom(obsproto.SourceSmartphone, obsproto.ReferenceUnix)
	require.True(t, ok)
	assert.Equal(t, sessionStart.Unix(), phone.Seconds)
}

func TestConsumeOneFrame_LocationChange(t *testing.T) {
	p, _ := newTestProcessor(t)
	here := Location{Latitude: 48.1371, Longitude: 11.5754, Altitude: 520, AccuracyMeters: 4}

	for i := 0; i < 4; i++ {
		p.OnTransportBytes(distanceFrame(t, 1, 1.5, int64(i)))
	}

	// No fix yet: the (0,0) placeholder is never written.
	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	assert.Len(t, decodeAll(t, out), 1)

	out, ok = p.ConsumeOneFrame(here, 60)
	require.True(t, ok)
	events := decodeAll(t, out)
	require.Len(t, events, 2)
	geo, ok := events[0].Geolocation()
	require.True(t, ok, "geolocation precedes the sensor record")
	assert.Equal(t, here.Latitude, geo.Latitude)
	assert.Equal(t, here.Longitude, geo.Longitude)
	assert.Equal(t, here.Altitude, geo.Altitude)
	assert.Equal(t, float32(4), geo.HDOP)
	assert.Len(t, events[0].Times, 1)

	// Same position again: no duplicate fix.
	out, ok = p.ConsumeOneFrame(here, 60)
	require.True(t, ok)
	assert.Len(t, decodeAll(t, out), 1)

	moved := here
	moved.Latitude += 0.0001
	out, ok = p.ConsumeOneFrame(moved, 60)
	require.True(t, ok)
	assert.Len(t, decodeAll(t, out), 2)
}

func TestConsumeOneFrame_PressWithMedian(t *testing.T) {
	p, _ := newTestProcessor(t)

	for i, m := range []float32{1.0, 1.1, 1.2} {
		p.OnTransportBytes(distanceFrame(t, 1, m, int64(i)))
	}
	// Other channels never feed the median.
	p.OnTransportBytes(distanceFrame(t, 2, 0.2, 3))
	p.OnTransportBytes(pressFrame(t, 4))

	for i := 0; i < 4; i++ {
		_, ok := p.ConsumeOneFrame(Location{}, 60)
		require.True(t, ok)
	}

	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	events := decodeAll(t, out)
	require.Len(t, events, 2, "a press yields the input and the derived distance")

	assert.True(t, events[0].IsUserInput())
	dm, ok := events[1].Distance()
	require.True(t, ok)
	assert.Equal(t, obsproto.SourceOvertaker, dm.SourceID)
	// corrected samples 70, 80, 90
	assert.InDelta(t, 0.80, dm.Distance, 1e-6)
	require.Len(t, events[1].Times, 1)
	assert.Equal(t, obsproto.SourceSmartphone, events[1].Times[0].SourceID)

	s := p.Stats()
	assert.True(t, s.HasMedianAtPress)
	assert.Equal(t, 80, s.LastMedianAtPressCm)
	assert.Equal(t, int64(1), s.UserInputs)
}

func TestConsumeOneFrame_PressWithoutMedian(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.OnTransportBytes(distanceFrame(t, 1, 1.0, 0))
	p.OnTransportBytes(pressFrame(t, 1))

	p.ConsumeOneFrame(Location{}, 60)
	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	events := decodeAll(t, out)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsUserInput())
	assert.False(t, p.Stats().HasMedianAtPress)
}

func TestConsumeOneFrame_NonFiniteDistancesSkipMedian(t *testing.T) {
	p, _ := newTestProcessor(t)

	readings := []float32{1.2, float32(math.Inf(1)), float32(math.NaN()), 1.0, 1.1}
	for i, m := range readings {
		p.OnTransportBytes(distanceFrame(t, 1, m, int64(i)))
	}
	p.OnTransportBytes(pressFrame(t, 5))

	var log []byte
	for p.HasCompleteFrame() {
		out, ok := p.ConsumeOneFrame(Location{}, 60)
		require.True(t, ok)
		log = append(log, out...)
	}

	events := decodeAll(t, log)
	require.Len(t, events, 7, "raw readings are archived even when unusable")
	dm, ok := events[6].Distance()
	require.True(t, ok)
	assert.InDelta(t, 0.80, dm.Distance, 1e-6)

	s := p.Stats()
	assert.True(t, s.HasMedianAtPress)
	assert.Equal(t, 80, s.LastMedianAtPressCm, "median of 90, 70 and 80 cm")
}

func TestConsumeOneFrame_NonFiniteDistancesNeverFillWindow(t *testing.T) {
	p, _ := newTestProcessor(t)

	for i, m := range []float32{1.2, float32(math.Inf(1)), float32(math.NaN())} {
		p.OnTransportBytes(distanceFrame(t, 1, m, int64(i)))
	}
	p.OnTransportBytes(pressFrame(t, 3))
	for p.HasCompleteFrame() {
		p.ConsumeOneFrame(Location{}, 60)
	}

	s := p.Stats()
	assert.False(t, s.HasMedianAtPress)
	assert.Zero(t, s.LastMedianAtPressCm)
}

func TestConsumeOneFrame_HandlebarReadPerCall(t *testing.T) {
	p, _ := newTestProcessor(t)
	for i := 0; i < 3; i++ {
		p.OnTransportBytes(distanceFrame(t, 1, 1.0, int64(i)))
	}
	p.OnTransportBytes(pressFrame(t, 3))

	p.ConsumeOneFrame(Location{}, 40)  // 80
	p.ConsumeOneFrame(Location{}, 60)  // 70
	p.ConsumeOneFrame(Location{}, 120) // 40
	p.ConsumeOneFrame(Location{}, 60)

	assert.Equal(t, 70, p.Stats().LastMedianAtPressCm)
}

func TestConsumeOneFrame_OtherKindsPassThrough(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.OnTransportBytes(frame(t, &obsproto.Event{
		Times:   []obsproto.Time{sensorTime(5)},
		Payload: &obsproto.TextMessage{Type: 1, Text: "boot"},
	}))
	p.OnTransportBytes(frame(t, &obsproto.Event{
		Times:   []obsproto.Time{sensorTime(6)},
		Payload: &obsproto.BatteryStatus{Voltage: 3.7},
	}))

	out, ok := p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	ev := decodeAll(t, out)[0]
	assert.Equal(t, &obsproto.TextMessage{Type: 1, Text: "boot"}, ev.Payload)
	assert.Len(t, ev.Times, 2)

	out, ok = p.ConsumeOneFrame(Location{}, 60)
	require.True(t, ok)
	assert.Equal(t, &obsproto.BatteryStatus{Voltage: 3.7}, decodeAll(t, out)[0].Payload)
}

func TestInjectLocation(t *testing.T) {
	p, _ := newTestProcessor(t)
	fix := Location{Latitude: 52.5, Longitude: 13.4, Altitude: 34, AccuracyMeters: 3, EpochMillis: 1_714_548_600_250}

	out := p.InjectLocation(fix)
	events := decodeAll(t, out)
	require.Len(t, events, 1)

	geo, ok := events[0].Geolocation()
	require.True(t, ok)
	assert.Equal(t, 52.5, geo.Latitude)

	ts, ok := events[0].TimeFrom(obsproto.SourceSmartphone, obsproto.ReferenceUnix)
	require.True(t, ok)
	assert.Equal(t, int64(1_714_548_600), ts.Seconds)
	assert.Equal(t, int32(250_000_000), ts.Nanoseconds)

	assert.Equal(t, int64(1), p.Stats().RecordsEmitted)
}

func TestProcessor_ConcurrentFeedAndConsume(t *testing.T) {
	p, clock := newTestProcessor(t)
	clock.SetStep(time.Millisecond)

	const frames = 200
	f := distanceFrame(t, 1, 1.3, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			p.OnTransportBytes(f[:3])
			p.OnTransportBytes(f[3:])
		}
	}()

	consumed := 0
	deadline := time.Now().Add(5 * time.Second)
	for consumed < frames && time.Now().Before(deadline) {
		if _, ok := p.ConsumeOneFrame(Location{}, 60); ok {
			consumed++
		}
	}
	wg.Wait()

	assert.Equal(t, frames, consumed)
	assert.Equal(t, int64(frames), p.Stats().RecordsEmitted)
}
