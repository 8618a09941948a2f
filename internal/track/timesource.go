package track

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/overtake.report/internal/obsproto"
)

// MinPlausibleUnix is 2019-01-01T00:00:00Z. Unix-referenced clocks reporting
// earlier times have not been set and cannot anchor a trip.
const MinPlausibleUnix = 1546300800

type sourceKey struct {
	id  int32
	ref obsproto.Reference
}

func keyOf(t obsproto.Time) sourceKey {
	return sourceKey{id: t.SourceID, ref: t.Reference}
}

// timeSource maps readings of one clock onto the reference axis with
// reference = slope*local + intercept.
type timeSource struct {
	key       sourceKey
	plausible bool

	local     []float64
	reference []float64

	slope     float64
	intercept float64
}

func newTimeSource(key sourceKey) *timeSource {
	return &timeSource{key: key, slope: 1}
}

func (s *timeSource) observe(t obsproto.Time) {
	if s.key.ref == obsproto.ReferenceUnix && t.Seconds > MinPlausibleUnix {
		s.plausible = true
	}
}

func (s *timeSource) addPoint(local, reference float64) {
	s.local = append(s.local, local)
	s.reference = append(s.reference, reference)
}

// fit computes the affine map by least squares. Fewer than two distinct
// local readings cannot determine a slope, so those sources keep slope 1
// and take the mean offset.
func (s *timeSource) fit() {
	switch {
	case len(s.local) == 0:
		s.slope, s.intercept = 1, 0
	case !spread(s.local):
		var sum float64
		for i := range s.local {
			sum += s.reference[i] - s.local[i]
		}
		s.slope, s.intercept = 1, sum/float64(len(s.local))
	default:
		s.intercept, s.slope = stat.LinearRegression(s.local, s.reference, nil, false)
	}
}

func (s *timeSource) toReference(local float64) float64 {
	return s.slope*local + s.intercept
}

func spread(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return true
		}
	}
	return false
}

// clockSet holds every clock seen in one log.
type clockSet struct {
	sources map[sourceKey]*timeSource
	best    *timeSource
}

func newClockSet(events []*obsproto.Event) *clockSet {
	cs := &clockSet{sources: make(map[sourceKey]*timeSource)}
	for _, ev := range events {
		for _, t := range ev.Times {
			src, ok := cs.sources[keyOf(t)]
			if !ok {
				src = newTimeSource(keyOf(t))
				cs.sources[keyOf(t)] = src
			}
			src.observe(t)
		}
	}
	return cs
}

// selectBest picks the plausible Unix clock with the smallest source ID.
func (cs *clockSet) selectBest() bool {
	for _, src := range cs.sources {
		if !src.plausible {
			continue
		}
		if cs.best == nil || src.key.id < cs.best.key.id {
			cs.best = src
		}
	}
	return cs.best != nil
}

// calibrate pairs every other clock's readings with the best clock's reading
// on the same record and fits each source.
func (cs *clockSet) calibrate(events []*obsproto.Event) {
	for _, ev := range events {
		ref, ok := ev.TimeFrom(cs.best.key.id, cs.best.key.ref)
		if !ok {
			continue
		}
		for _, t := range ev.Times {
			if keyOf(t) == cs.best.key {
				continue
			}
			cs.sources[keyOf(t)].addPoint(t.Float(), ref.Float())
		}
	}
	for _, src := range cs.sources {
		if src != cs.best {
			src.fit()
		}
	}
}

// recordTime returns the canonical time of ev on the reference axis.
func (cs *clockSet) recordTime(ev *obsproto.Event) (float64, bool) {
	if t, ok := ev.TimeFrom(cs.best.key.id, cs.best.key.ref); ok {
		return t.Float(), true
	}
	if len(ev.Times) == 0 {
		return 0, false
	}
	first := ev.Times[0]
	return cs.sources[keyOf(first)].toReference(first.Float()), true
}
