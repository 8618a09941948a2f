package track

import (
	"math"
	"sort"
)

// eventWindowSeconds is how far before a press distance samples count.
const eventWindowSeconds = 5.0

type sample struct {
	t      float64
	meters float64
}

// series is a time-sorted list of distance samples.
type series []sample

func sortSeries(s series) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].t < s[j].t })
}

// minBetween returns the smallest sample with after < t <= until and
// t >= until-eventWindowSeconds.
func (s series) minBetween(after, until float64) (float64, bool) {
	from := math.Max(after, until-eventWindowSeconds)
	i := sort.Search(len(s), func(i int) bool { return s[i].t >= from })

	best, found := 0.0, false
	for ; i < len(s) && s[i].t <= until; i++ {
		if s[i].t <= after {
			continue
		}
		if !found || s[i].meters < best {
			best, found = s[i].meters, true
		}
	}
	return best, found
}

// associate builds the overtake events for one segment. presses must be
// sorted. A distance sample at or before the previous press in the segment
// belongs to that press and is not counted again.
func associate(seg segment, presses []float64, overtaker, stationary series) []OvertakeEvent {
	var events []OvertakeEvent
	prev := math.Inf(-1)

	for _, t := range presses {
		if t < seg.first() || t > seg.last() {
			continue
		}

		minOvertaker, ok := overtaker.minBetween(prev, t)
		if ok {
			pos := seg.positionAt(t)
			ev := OvertakeEvent{
				Time:        t,
				Latitude:    pos.Lat,
				Longitude:   pos.Lon,
				OvertakerCm: metersToCm(minOvertaker),
			}
			if minStationary, ok := stationary.minBetween(prev, t); ok {
				cm := metersToCm(minStationary)
				ev.StationaryCm = &cm
			}
			events = append(events, ev)
		}
		prev = t
	}
	return events
}

// metersToCm rounds to whole centimetres, clamped to [0, MaxInt32].
func metersToCm(m float64) int {
	cm := math.Round(m * 100)
	switch {
	case math.IsNaN(cm) || cm < 0:
		return 0
	case cm > math.MaxInt32:
		return math.MaxInt32
	}
	return int(cm)
}
