package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/overtake.report/internal/obsproto"
)

func fitted(points ...[2]float64) *timeSource {
	s := newTimeSource(sourceKey{id: 1})
	for _, p := range points {
		s.addPoint(p[0], p[1])
	}
	s.fit()
	return s
}

func TestTimeSource_NoPointsIsIdentity(t *testing.T) {
	s := fitted()
	assert.Equal(t, 1.0, s.slope)
	assert.Equal(t, 0.0, s.intercept)
	assert.Equal(t, 123.5, s.toReference(123.5))
}

func TestTimeSource_OnePointIsOffset(t *testing.T) {
	s := fitted([2]float64{10, t0 + 10.25})
	assert.Equal(t, 1.0, s.slope)
	assert.InDelta(t, t0+10.25, s.toReference(10), 1e-6)
	assert.InDelta(t, t0+110.25, s.toReference(110), 1e-6)
}

func TestTimeSource_DegenerateLocalUsesMeanOffset(t *testing.T) {
	s := fitted([2]float64{5, 105}, [2]float64{5, 107})
	assert.Equal(t, 1.0, s.slope)
	assert.InDelta(t, 106, s.toReference(5), 1e-9)
}

func TestTimeSource_ReproducesCalibrationPairs(t *testing.T) {
	// Sensor clock running at double rate with an offset.
	pairs := [][2]float64{{1, 7}, {2, 9}, {4, 13}, {10, 25}}
	s := fitted(pairs...)

	assert.InDelta(t, 2.0, s.slope, 1e-9)
	assert.InDelta(t, 5.0, s.intercept, 1e-9)
	for _, p := range pairs {
		assert.InDelta(t, p[1], s.toReference(p[0]), 1e-9)
	}
	// interpolation between points
	assert.InDelta(t, 11, s.toReference(3), 1e-9)
}

func TestTimeSource_LeastSquares(t *testing.T) {
	s := fitted([2]float64{0, 0}, [2]float64{1, 1}, [2]float64{2, 3})
	// y = 1.5x - 1/6
	assert.InDelta(t, 1.5, s.slope, 1e-9)
	assert.InDelta(t, -1.0/6, s.intercept, 1e-9)
}

func TestClockSet_SelectBest(t *testing.T) {
	events := []*obsproto.Event{
		{Times: []obsproto.Time{phoneAt(t0), unixAt(2, t0+1), sensorAt(3)}},
		// Source 1 has a Unix clock that was never set.
		{Times: []obsproto.Time{unixAt(1, 1000)}},
	}
	cs := newClockSet(events)
	require.True(t, cs.selectBest())
	assert.Equal(t, int32(2), cs.best.key.id, "smallest plausible Unix source wins")
}

func TestClockSet_NoPlausibleSource(t *testing.T) {
	events := []*obsproto.Event{
		{Times: []obsproto.Time{sensorAt(5)}},
		{Times: []obsproto.Time{unixAt(3, MinPlausibleUnix)}},
	}
	cs := newClockSet(events)
	assert.False(t, cs.selectBest(), "readings must be strictly after the threshold")
}

func TestClockSet_RecordTime(t *testing.T) {
	events := []*obsproto.Event{
		{Times: []obsproto.Time{sensorAt(100), phoneAt(t0 + 0.5)}},
		{Times: []obsproto.Time{sensorAt(101), phoneAt(t0 + 1.5)}},
		{Times: []obsproto.Time{sensorAt(104)}},
		{},
	}
	cs := newClockSet(events)
	require.True(t, cs.selectBest())
	cs.calibrate(events)

	got, ok := cs.recordTime(events[0])
	require.True(t, ok)
	assert.InDelta(t, t0+0.5, got, 1e-6, "best reading is used as is")

	got, ok = cs.recordTime(events[2])
	require.True(t, ok)
	assert.InDelta(t, t0+4.5, got, 1e-4, "sensor-only reading is mapped through the fit")

	_, ok = cs.recordTime(events[3])
	assert.False(t, ok)

	assert.Equal(t, 1.0, cs.best.slope)
	assert.Equal(t, 0.0, cs.best.intercept)
}
