// Package session turns the raw byte stream of an OBS sensor into log frames.
//
// A Processor buffers transport bytes into COBS frames, decodes each frame
// into an event, stamps it with the phone clock and re-encodes whatever should
// be persisted. Distance samples from the overtaker channel are corrected for
// the handlebar width and tracked by a rolling median so that a button press
// can be annotated with the smoothed distance at that moment.
package session

import (
	"math"
	"sync"

	"github.com/banshee-data/overtake.report/internal/cobs"
	"github.com/banshee-data/overtake.report/internal/median"
	"github.com/banshee-data/overtake.report/internal/monitoring"
	"github.com/banshee-data/overtake.report/internal/obsproto"
	"github.com/banshee-data/overtake.report/internal/timeutil"
)

// Location is a position fix from the location provider.
type Location struct {
	Latitude       float64
	Longitude      float64
	Altitude       float64
	AccuracyMeters float32
	EpochMillis    int64
}

func (l Location) samePosition(o Location) bool {
	return l.Latitude == o.Latitude && l.Longitude == o.Longitude
}

func (l Location) geolocation() *obsproto.Geolocation {
	return &obsproto.Geolocation{
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Altitude:  l.Altitude,
		// The location provider reports accuracy in metres; the schema has
		// no better slot for it.
		HDOP: l.AccuracyMeters,
	}
}

// Options configures a Processor. Zero values select the median defaults.
type Options struct {
	MedianWindow  int
	MedianHistory int
}

// Stats are diagnostic counters for one session.
type Stats struct {
	BytesEmitted   int64
	RecordsEmitted int64
	FramesDropped  int64
	QueueDepth     int
	PendingBytes   int

	// LastMedianAtPressCm is the smoothed overtaker distance attached to the
	// most recent button press. HasMedianAtPress is false until a press
	// happened with enough samples.
	LastMedianAtPressCm int
	HasMedianAtPress    bool
	UserInputs          int64
}

// Processor holds the live state of one recording session. All methods are
// safe for concurrent use.
type Processor struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	queue  frameQueue
	median *median.Median

	// lastLoc is the position last written as a geolocation record. The zero
	// value matches the (0,0) no-fix placeholder so that is never written.
	lastLoc Location

	stats Stats
}

// NewProcessor returns a Processor for a fresh session.
func NewProcessor(clock timeutil.Clock, opts Options) *Processor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Processor{
		clock:  clock,
		median: median.New(opts.MedianWindow, opts.MedianHistory),
	}
}

// OnTransportBytes buffers a chunk of transport bytes. Chunks may split or
// merge frames arbitrarily.
func (p *Processor) OnTransportBytes(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.push(chunk)
}

// HasCompleteFrame reports whether the oldest buffered frame is complete.
func (p *Processor) HasCompleteFrame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.headComplete()
}

// ConsumeOneFrame processes the oldest complete frame and returns the framed
// records to append to the log. loc is the current position and
// handlebarWidthCm the configured handlebar width.
//
// ok is false when nothing should be written: no complete frame is buffered,
// the frame did not decode, or it produced no records. A frame that fails to
// decode is discarded; an incomplete head frame is left in place.
func (p *Processor) ConsumeOneFrame(loc Location, handlebarWidthCm int) (out []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.queue.headComplete() {
		return nil, false
	}
	raw := p.queue.pop()

	ev, err := obsproto.Unmarshal(cobs.Unstuff(raw))
	if err != nil {
		p.stats.FramesDropped++
		monitoring.Logf("session: dropping %d byte frame: %v", len(raw), err)
		return nil, false
	}

	phone := obsproto.UnixMilliTime(p.clock.Now().UnixMilli(), obsproto.SourceSmartphone)

	if !loc.samePosition(p.lastLoc) {
		out = p.appendEvent(out, &obsproto.Event{
			Times:   []obsproto.Time{phone},
			Payload: loc.geolocation(),
		})
		p.lastLoc = loc
	}

	ev.MergeTime(phone)
	out = p.appendEvent(out, ev)

	switch payload := ev.Payload.(type) {
	case *obsproto.DistanceMeasurement:
		if payload.SourceID == obsproto.SourceOvertaker && validDistance(payload.Distance) {
			p.median.Update(CorrectedCm(payload.Distance, handlebarWidthCm))
		}
		monitoring.Debugf("session: distance source=%d %.2fm", payload.SourceID, payload.Distance)

	case *obsproto.UserInput:
		p.stats.UserInputs++
		if med, ok := p.median.Current(); ok {
			p.stats.LastMedianAtPressCm = med
			p.stats.HasMedianAtPress = true
			out = p.appendEvent(out, &obsproto.Event{
				Times: []obsproto.Time{phone},
				Payload: &obsproto.DistanceMeasurement{
					SourceID: obsproto.SourceOvertaker,
					Distance: float32(med) / 100,
				},
			})
			monitoring.Debugf("session: press with median %dcm", med)
		} else {
			monitoring.Debugf("session: press without enough distance samples")
		}
	}

	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// InjectLocation returns one framed geolocation record for fix, timestamped
// with the fix's own time. It is used for fixes that arrive independently of
// sensor traffic.
func (p *Processor) InjectLocation(fix Location) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.appendEvent(nil, &obsproto.Event{
		Times:   []obsproto.Time{obsproto.UnixMilliTime(fix.EpochMillis, obsproto.SourceSmartphone)},
		Payload: fix.geolocation(),
	})
}

// Stats returns a snapshot of the session counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.QueueDepth = p.queue.len()
	s.PendingBytes = p.queue.pending()
	return s
}

// appendEvent frames ev onto dst and updates the counters. Callers hold mu.
func (p *Processor) appendEvent(dst []byte, ev *obsproto.Event) []byte {
	b, err := ev.Marshal()
	if err != nil {
		monitoring.Logf("session: skipping %s record: %v", kindOf(ev), err)
		return dst
	}
	n := len(dst)
	dst = cobs.AppendFrame(dst, b)
	p.stats.BytesEmitted += int64(len(dst) - n)
	p.stats.RecordsEmitted++
	return dst
}

// validDistance reports whether a raw reading is a finite number of metres.
func validDistance(meters float32) bool {
	d := float64(meters)
	return !math.IsNaN(d) && !math.IsInf(d, 0)
}

// CorrectedCm converts a raw echo distance in metres to centimetres measured
// from the handlebar end rather than the sensor, clamped to [0, MaxInt32].
// NaN maps to 0.
func CorrectedCm(distanceMeters float32, handlebarWidthCm int) int {
	cm := math.Round(float64(distanceMeters) * 100)
	corrected := math.Floor(cm - float64(handlebarWidthCm)/2 + 0.5)
	switch {
	case math.IsNaN(corrected) || corrected < 0:
		return 0
	case corrected > math.MaxInt32:
		return math.MaxInt32
	}
	return int(corrected)
}

func kindOf(ev *obsproto.Event) string {
	if ev == nil || ev.Payload == nil {
		return "empty"
	}
	return ev.Payload.Kind()
}
