// Package recording drives one trip at a time: it owns the live session
// processor and the trip log, and keeps the per-trip statistics.
package recording

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/overtake.report/internal/cobs"
	"github.com/banshee-data/overtake.report/internal/config"
	"github.com/banshee-data/overtake.report/internal/fsutil"
	"github.com/banshee-data/overtake.report/internal/geo"
	"github.com/banshee-data/overtake.report/internal/logwriter"
	"github.com/banshee-data/overtake.report/internal/monitoring"
	"github.com/banshee-data/overtake.report/internal/session"
	"github.com/banshee-data/overtake.report/internal/timeutil"
	"github.com/banshee-data/overtake.report/internal/track"
)

// State is the recorder state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Ridden distance steps outside this range are GPS jitter or jumps.
const (
	minStepMeters = 3.0
	maxStepMeters = 2000.0
)

// ErrNotRecording is returned by operations that need an active trip.
var ErrNotRecording = errors.New("recording: not recording")

// TripSummary describes a finished trip.
type TripSummary struct {
	ID              uuid.UUID
	FileName        string
	Path            string
	StartedAt       time.Time
	StoppedAt       time.Time
	DurationSeconds int64
	Overtakes       int
	DistanceMeters  float64
	BytesWritten    int64
	Records         int64
	FramesDropped   int64
}

// TripStore persists finished trips. report is nil when the log could not
// be reconstructed.
type TripStore interface {
	SaveTrip(summary *TripSummary, report *track.Report) error
}

// Options configures a Recorder.
type Options struct {
	FS     fsutil.FileSystem
	Dir    string
	Clock  timeutil.Clock
	Config *config.RecorderConfig
	// Store is optional.
	Store TripStore
}

// Recorder is the Idle/Recording state machine. A single mutex serialises
// state changes and every append to the trip log, so frames from the sensor
// and fixes from the location provider never interleave within a write and
// no append can race with closing the log.
type Recorder struct {
	fs    fsutil.FileSystem
	dir   string
	clock timeutil.Clock
	store TripStore

	sessionOpts    session.Options
	maxFrames      int
	handlebarWidth atomic.Int32

	mu        sync.Mutex
	state     State
	proc      *session.Processor
	writer    *logwriter.Writer
	tripID    uuid.UUID
	startedAt time.Time
	location  session.Location
	prevFix   *geo.Point
	distance  float64
}

// New returns an idle Recorder.
func New(opts Options) *Recorder {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultRecorderConfig()
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Dir == "" {
		opts.Dir = cfg.GetLogDir()
	}

	r := &Recorder{
		fs:    opts.FS,
		dir:   opts.Dir,
		clock: opts.Clock,
		store: opts.Store,
		sessionOpts: session.Options{
			MedianWindow:  cfg.GetMedianWindow(),
			MedianHistory: cfg.GetMedianHistory(),
		},
		maxFrames: cfg.GetMaxFramesPerBurst(),
	}
	r.handlebarWidth.Store(int32(cfg.GetHandlebarWidthCm()))
	return r
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetHandlebarWidth sets the handlebar width used for distance correction,
// clamped to the accepted range. It takes effect on the next sensor burst.
func (r *Recorder) SetHandlebarWidth(cm int) int {
	cm = config.ClampHandlebarWidth(cm)
	r.handlebarWidth.Store(int32(cm))
	return cm
}

// HandlebarWidth returns the current handlebar width in cm.
func (r *Recorder) HandlebarWidth() int {
	return int(r.handlebarWidth.Load())
}

// Start begins a new trip with a fresh session and log file. Starting while
// already recording is a no-op. If the log cannot be created the recorder
// stays idle and the error is returned.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Recording {
		monitoring.Logf("recording: start ignored, trip %s already running", r.tripID)
		return nil
	}

	now := r.clock.Now()
	w, err := logwriter.Create(r.fs, r.dir, now)
	if err != nil {
		return fmt.Errorf("start trip: %w", err)
	}

	r.proc = session.NewProcessor(r.clock, r.sessionOpts)
	r.writer = w
	r.tripID = uuid.New()
	r.startedAt = now
	r.prevFix = nil
	r.distance = 0
	r.state = Recording

	monitoring.Logf("recording: trip %s started, writing %s", r.tripID, w.Path())
	return nil
}

// Stop ends the trip, closing the log before returning. Stopping while idle
// is a no-op returning nil, nil. A close error is returned together with the
// summary; the log may then be incomplete.
func (r *Recorder) Stop() (*TripSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return nil, nil
	}

	closeErr := r.writer.Close()
	stats := r.proc.Stats()
	stopped := r.clock.Now()

	summary := &TripSummary{
		ID:              r.tripID,
		FileName:        filepath.Base(r.writer.Path()),
		Path:            r.writer.Path(),
		StartedAt:       r.startedAt.UTC(),
		StoppedAt:       stopped.UTC(),
		DurationSeconds: int64(stopped.Sub(r.startedAt) / time.Second),
		Overtakes:       int(stats.UserInputs),
		DistanceMeters:  r.distance,
		BytesWritten:    r.writer.BytesWritten(),
		Records:         stats.RecordsEmitted,
		FramesDropped:   stats.FramesDropped,
	}

	r.state = Idle
	r.proc = nil
	r.writer = nil

	if closeErr != nil {
		return summary, fmt.Errorf("stop trip: %w", closeErr)
	}

	monitoring.Logf("recording: trip %s stopped: %d overtakes, %.0f m, %d s, %d bytes",
		summary.ID, summary.Overtakes, summary.DistanceMeters, summary.DurationSeconds, summary.BytesWritten)

	if r.store != nil && (summary.Overtakes > 0 || summary.DistanceMeters > 0) {
		report, ok, err := track.ParseFile(r.fs, summary.Path)
		if err != nil {
			monitoring.Logf("recording: reconstruct %s: %v", summary.Path, err)
		}
		if !ok {
			report = nil
		}
		if err := r.store.SaveTrip(summary, report); err != nil {
			return summary, fmt.Errorf("save trip %s: %w", summary.ID, err)
		}
	}
	return summary, nil
}

// OnTransportBytes handles a chunk from the sensor link. While recording it
// drains up to the burst limit of complete frames into the log; frames left
// over are handled on the next call. Chunks arriving while idle are dropped.
func (r *Recorder) OnTransportBytes(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		monitoring.Debugf("recording: idle, dropping %d bytes", len(chunk))
		return nil
	}

	r.proc.OnTransportBytes(chunk)

	handlebar := r.HandlebarWidth()
	for n := 0; r.proc.HasCompleteFrame(); n++ {
		if n >= r.maxFrames {
			monitoring.Logf("recording: burst limit of %d frames reached, deferring the rest", r.maxFrames)
			break
		}
		out, ok := r.proc.ConsumeOneFrame(r.location, handlebar)
		if !ok {
			continue
		}
		if err := r.writer.Append(out); err != nil {
			return fmt.Errorf("write trip log: %w", err)
		}
	}
	return nil
}

// Drain writes every complete frame still buffered, ignoring the burst
// limit. Call it before Stop so frames already received reach the log.
func (r *Recorder) Drain() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return ErrNotRecording
	}
	handlebar := r.HandlebarWidth()
	for r.proc.HasCompleteFrame() {
		out, ok := r.proc.ConsumeOneFrame(r.location, handlebar)
		if !ok {
			continue
		}
		if err := r.writer.Append(out); err != nil {
			return fmt.Errorf("write trip log: %w", err)
		}
	}
	return nil
}

// OnBLEPacket handles one BLE notification. BLE delivers bare protobuf
// events, so each packet is framed before entering the stream path.
func (r *Recorder) OnBLEPacket(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	return r.OnTransportBytes(cobs.AppendFrame(nil, raw))
}

// OnLocation records a new position fix. While recording the fix is written
// to the log and added to the ridden distance.
func (r *Recorder) OnLocation(fix session.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.location = fix
	if r.state != Recording {
		return nil
	}

	p := geo.Point{Lat: fix.Latitude, Lon: fix.Longitude}
	if !p.IsOrigin() {
		if r.prevFix != nil {
			if step := geo.HaversineMeters(*r.prevFix, p); step > minStepMeters && step < maxStepMeters {
				r.distance += step
			}
		}
		r.prevFix = &p
	}

	if err := r.writer.Append(r.proc.InjectLocation(fix)); err != nil {
		return fmt.Errorf("write trip log: %w", err)
	}
	return nil
}

// Status is a snapshot of the running trip.
type Status struct {
	State          State
	TripID         uuid.UUID
	Elapsed        time.Duration
	DistanceMeters float64
	Session        session.Stats
	BytesWritten   int64
}

// Status returns the current trip status.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{State: r.state}
	if r.state != Recording {
		return s
	}
	s.TripID = r.tripID
	s.Elapsed = r.clock.Since(r.startedAt)
	s.DistanceMeters = r.distance
	s.Session = r.proc.Stats()
	s.BytesWritten = r.writer.BytesWritten()
	return s
}

// Flush pushes buffered log data to disk.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return ErrNotRecording
	}
	return r.writer.Flush()
}
