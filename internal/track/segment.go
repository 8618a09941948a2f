package track

import (
	"sort"

	"github.com/banshee-data/overtake.report/internal/geo"
)

const (
	maxGapSeconds   = 10.0
	maxGapMeters    = 100.0
	minSegmentFixes = 10
)

type fix struct {
	t   float64
	pos geo.Point
}

type segment []fix

func (s segment) first() float64 { return s[0].t }
func (s segment) last() float64  { return s[len(s)-1].t }

// segmentFixes splits fixes, in log order, into runs without a time gap over
// maxGapSeconds or a jump over maxGapMeters. A fix older than the previous
// kept fix is dropped without ending the run. Runs shorter than
// minSegmentFixes are discarded.
func segmentFixes(fixes []fix) []segment {
	var (
		out []segment
		cur segment
	)
	flush := func() {
		if len(cur) >= minSegmentFixes {
			out = append(out, cur)
		}
		cur = nil
	}

	for _, f := range fixes {
		if len(cur) == 0 {
			cur = append(cur, f)
			continue
		}
		prev := cur[len(cur)-1]
		if f.t < prev.t {
			continue
		}
		if f.t-prev.t > maxGapSeconds || geo.HaversineMeters(prev.pos, f.pos) > maxGapMeters {
			flush()
		}
		cur = append(cur, f)
	}
	flush()
	return out
}

// positionAt interpolates the position at t between the bracketing fixes,
// clamping to the segment ends.
func (s segment) positionAt(t float64) geo.Point {
	i := sort.Search(len(s), func(i int) bool { return s[i].t >= t })
	switch {
	case i == 0:
		return s[0].pos
	case i == len(s):
		return s[len(s)-1].pos
	case s[i].t == t:
		return s[i].pos
	}
	a, b := s[i-1], s[i]
	return geo.Lerp(a.pos, b.pos, (t-a.t)/(b.t-a.t))
}

// lengthMeters sums the great-circle distance along the segment.
func (s segment) lengthMeters() float64 {
	var d float64
	for i := 1; i < len(s); i++ {
		d += geo.HaversineMeters(s[i-1].pos, s[i].pos)
	}
	return d
}
