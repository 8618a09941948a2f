// Package track reconstructs a geotagged trip report from a finished trip
// log.
//
// Reconstruction runs in one pass over an immutable log:
//
//  1. split the log into frames and decode every event, skipping bad frames
//  2. choose the reference clock and calibrate every other clock against it
//  3. place each event on the reference axis
//  4. split GPS fixes into segments and drop short ones
//  5. attach each button press to its interpolated position and the closest
//     distance measured in the preceding seconds
//
// Parse keeps no state between calls and may run concurrently.
package track

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/overtake.report/internal/cobs"
	"github.com/banshee-data/overtake.report/internal/fsutil"
	"github.com/banshee-data/overtake.report/internal/geo"
	"github.com/banshee-data/overtake.report/internal/obsproto"
)

// Coordinate is a route point.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// OvertakeEvent is a confirmed overtaking manoeuvre.
type OvertakeEvent struct {
	// Time is the press time in Unix seconds.
	Time         float64 `json:"time"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	OvertakerCm  int     `json:"overtaker_cm"`
	StationaryCm *int    `json:"stationary_cm,omitempty"`
}

// OvertakeStats summarises the overtaker distances of all events.
type OvertakeStats struct {
	Count int     `json:"count"`
	MinCm int     `json:"min_cm"`
	MaxCm int     `json:"max_cm"`
	AvgCm float64 `json:"avg_cm"`
}

// Report is the reconstructed trip.
type Report struct {
	// Route is every surviving segment's fixes, segment by segment.
	Route    []Coordinate    `json:"route"`
	Segments int             `json:"segments"`
	Events   []OvertakeEvent `json:"events"`

	// TotalMeasurements counts every distance record in the log, whether or
	// not it falls inside a segment.
	TotalMeasurements int `json:"total_measurements"`

	DurationSeconds int64     `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	DistanceMeters  float64   `json:"distance_meters"`

	Stats OvertakeStats `json:"stats"`
}

// ParseFile reads and parses a trip log. ok is false when the log holds no
// usable data.
func ParseFile(fsys fsutil.FileSystem, path string) (report *Report, ok bool, err error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read trip log %s: %w", path, err)
	}
	report, ok = Parse(data)
	return report, ok, nil
}

// Parse reconstructs the trip recorded in log. ok is false when the log has
// no decodable events or no plausible Unix clock.
func Parse(log []byte) (*Report, bool) {
	events := decodeLog(log)
	if len(events) == 0 {
		return nil, false
	}

	clocks := newClockSet(events)
	if !clocks.selectBest() {
		return nil, false
	}
	clocks.calibrate(events)

	var (
		fixes                 []fix
		overtaker, stationary series
		presses               []float64
		timed                 []float64
		measurements          int
	)
	for _, ev := range events {
		dm, isDistance := ev.Distance()
		if isDistance {
			measurements++
		}

		t, ok := clocks.recordTime(ev)
		if !ok {
			continue
		}
		if t > 0 {
			timed = append(timed, t)
		}

		switch {
		case isDistance:
			m := float64(dm.Distance)
			if math.IsNaN(m) || math.IsInf(m, 0) {
				continue
			}
			s := sample{t: t, meters: m}
			if dm.SourceID == obsproto.SourceOvertaker {
				overtaker = append(overtaker, s)
			} else {
				stationary = append(stationary, s)
			}
		case ev.IsUserInput():
			presses = append(presses, t)
		default:
			if g, ok := ev.Geolocation(); ok {
				p := geo.Point{Lat: g.Latitude, Lon: g.Longitude}
				if !p.IsOrigin() {
					fixes = append(fixes, fix{t: t, pos: p})
				}
			}
		}
	}

	sortSeries(overtaker)
	sortSeries(stationary)
	sort.Float64s(presses)

	report := &Report{
		TotalMeasurements: measurements,
		Route:             []Coordinate{},
		Events:            []OvertakeEvent{},
	}
	for _, seg := range segmentFixes(fixes) {
		report.Segments++
		for _, f := range seg {
			report.Route = append(report.Route, Coordinate{Latitude: f.pos.Lat, Longitude: f.pos.Lon})
		}
		report.DistanceMeters += seg.lengthMeters()
		report.Events = append(report.Events, associate(seg, presses, overtaker, stationary)...)
	}
	report.Stats = summarize(report.Events)

	if start, end, ok := span(timed); ok {
		report.DurationSeconds = int64(end - start)
		report.StartedAt = unixTime(start)
	} else if len(timed) > 0 {
		report.StartedAt = unixTime(timed[0])
	}

	return report, true
}

func decodeLog(log []byte) []*obsproto.Event {
	var events []*obsproto.Event
	for _, frame := range cobs.SplitFrames(log) {
		ev, err := obsproto.Unmarshal(cobs.Unstuff(frame))
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// span returns the earliest and latest of ts; ok is false unless there are
// two distinct values.
func span(ts []float64) (lo, hi float64, ok bool) {
	if len(ts) == 0 {
		return 0, 0, false
	}
	lo, hi = ts[0], ts[0]
	for _, t := range ts[1:] {
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
	}
	return lo, hi, hi > lo
}

func summarize(events []OvertakeEvent) OvertakeStats {
	if len(events) == 0 {
		return OvertakeStats{}
	}
	s := OvertakeStats{Count: len(events), MinCm: events[0].OvertakerCm, MaxCm: events[0].OvertakerCm}
	sum := 0
	for _, ev := range events {
		s.MinCm = min(s.MinCm, ev.OvertakerCm)
		s.MaxCm = max(s.MaxCm, ev.OvertakerCm)
		sum += ev.OvertakerCm
	}
	s.AvgCm = float64(sum) / float64(len(events))
	return s
}

func unixTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
