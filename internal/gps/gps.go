// Package gps turns an NMEA 0183 stream from a serial GNSS receiver into
// position fixes for the recorder.
package gps

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/overtake.report/internal/monitoring"
	"github.com/banshee-data/overtake.report/internal/session"
	"github.com/banshee-data/overtake.report/internal/timeutil"
)

// uereMeters is the nominal user equivalent range error used to turn HDOP
// into a horizontal accuracy estimate.
const uereMeters = 5.0

// Fix is one combined GNSS position.
type Fix struct {
	Time       time.Time
	Latitude   float64
	Longitude  float64
	Altitude   float64
	HDOP       float64
	Satellites int64
	SpeedKnots float64
	CourseDeg  float64
}

// AccuracyMeters estimates the horizontal accuracy of the fix. It is zero
// when no GGA sentence supplied an HDOP.
func (f Fix) AccuracyMeters() float64 {
	return f.HDOP * uereMeters
}

// Location converts the fix for the session processor.
func (f Fix) Location() session.Location {
	return session.Location{
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
		Altitude:       f.Altitude,
		AccuracyMeters: float32(f.AccuracyMeters()),
		EpochMillis:    f.Time.UnixMilli(),
	}
}

// Reader parses NMEA sentences. GGA sentences update altitude, HDOP and
// satellite count; every valid RMC sentence produces a Fix carrying the
// latest GGA values.
type Reader struct {
	// Clock stamps fixes whose RMC sentence has no valid date.
	Clock timeutil.Clock

	sentences atomic.Int64
	errors    atomic.Int64
	fixes     atomic.Int64
}

// NewReader returns a Reader using the real clock.
func NewReader() *Reader {
	return &Reader{Clock: timeutil.RealClock{}}
}

// Stats returns the number of parsed sentences, rejected lines and
// delivered fixes.
func (r *Reader) Stats() (sentences, errors, fixes int64) {
	return r.sentences.Load(), r.errors.Load(), r.fixes.Load()
}

// Run reads lines from src until it is exhausted or ctx is done, calling fn
// for each fix. Reads are not interrupted by ctx; close src to unblock.
func (r *Reader) Run(ctx context.Context, src io.Reader, fn func(Fix)) error {
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var gga *nmea.GGA
	scan := bufio.NewScanner(src)
	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scan.Text())
		// NMEA sentences start with '$'; anything else is line noise.
		if !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			r.errors.Add(1)
			monitoring.Debugf("gps: %v", err)
			continue
		}
		r.sentences.Add(1)

		switch sentence.DataType() {
		case nmea.TypeGGA:
			m := sentence.(nmea.GGA)
			if m.FixQuality == nmea.Invalid {
				gga = nil
				continue
			}
			gga = &m

		case nmea.TypeRMC:
			m := sentence.(nmea.RMC)
			if m.Validity != nmea.ValidRMC {
				continue
			}
			fix := Fix{
				Time:       fixTime(m, clock),
				Latitude:   m.Latitude,
				Longitude:  m.Longitude,
				SpeedKnots: m.Speed,
				CourseDeg:  m.Course,
			}
			if gga != nil {
				fix.Altitude = gga.Altitude
				fix.HDOP = gga.HDOP
				fix.Satellites = gga.NumSatellites
			}
			r.fixes.Add(1)
			fn(fix)
		}
	}
	if err := scan.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func fixTime(m nmea.RMC, clock timeutil.Clock) time.Time {
	if !m.Date.Valid || !m.Time.Valid {
		return clock.Now().UTC()
	}
	return time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
}
