package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/overtake.report/internal/recording"
	"github.com/banshee-data/overtake.report/internal/track"
)

// ErrTripNotFound is returned when no trip has the requested ID.
var ErrTripNotFound = errors.New("db: trip not found")

var _ recording.TripStore = (*DB)(nil)

// Trip is one stored trip. The report columns are only set when the trip
// log could be reconstructed.
type Trip struct {
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

	HasReport           bool
	Segments            int
	Measurements        int
	RouteDistanceMeters float64
	MinOvertakeCm       *int
	AvgOvertakeCm       *float64
	MaxOvertakeCm       *int

	// ReportStartedAt and ReportDurationSeconds come from the log's own
	// timestamps. They are zero for reports stored before they were kept.
	ReportStartedAt       time.Time
	ReportDurationSeconds *int64
}

// TotalStats aggregates every stored trip.
type TotalStats struct {
	Sessions        int
	Overtakes       int
	DistanceKm      float64
	DurationMinutes int64
}

// SaveTrip stores a finished trip together with its reconstructed report.
// report may be nil.
func (db *DB) SaveTrip(summary *recording.TripSummary, report *track.Report) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save trip: %w", err)
	}
	defer tx.Rollback()

	id := summary.ID.String()
	_, err = tx.Exec(`INSERT INTO trips (
			trip_id, file_name, path, started_at, stopped_at, duration_s,
			overtakes, distance_m, bytes_written, records, frames_dropped
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, summary.FileName, summary.Path,
		summary.StartedAt.Unix(), summary.StoppedAt.Unix(), summary.DurationSeconds,
		summary.Overtakes, summary.DistanceMeters,
		summary.BytesWritten, summary.Records, summary.FramesDropped,
	)
	if err != nil {
		return fmt.Errorf("insert trip %s: %w", id, err)
	}

	if report != nil {
		if err := saveReport(tx, id, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trip %s: %w", id, err)
	}
	return nil
}

func saveReport(tx *sql.Tx, id string, report *track.Report) error {
	var minCm, maxCm sql.NullInt64
	var avgCm sql.NullFloat64
	if report.Stats.Count > 0 {
		minCm = sql.NullInt64{Int64: int64(report.Stats.MinCm), Valid: true}
		maxCm = sql.NullInt64{Int64: int64(report.Stats.MaxCm), Valid: true}
		avgCm = sql.NullFloat64{Float64: report.Stats.AvgCm, Valid: true}
	}

	var startedMs sql.NullInt64
	if !report.StartedAt.IsZero() {
		startedMs = sql.NullInt64{Int64: report.StartedAt.UnixMilli(), Valid: true}
	}

	_, err := tx.Exec(`UPDATE trips SET
			segments = ?, measurements = ?, route_distance_m = ?,
			min_overtake_cm = ?, avg_overtake_cm = ?, max_overtake_cm = ?,
			report_started_ms = ?, report_duration_s = ?
		WHERE trip_id = ?`,
		report.Segments, report.TotalMeasurements, report.DistanceMeters,
		minCm, avgCm, maxCm,
		startedMs, report.DurationSeconds, id,
	)
	if err != nil {
		return fmt.Errorf("update trip report %s: %w", id, err)
	}

	insEvent, err := tx.Prepare(`INSERT INTO overtakes (
			trip_id, time_s, latitude, longitude, overtaker_cm, stationary_cm
		) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare overtakes: %w", err)
	}
	defer insEvent.Close()
	for _, ev := range report.Events {
		var stationary sql.NullInt64
		if ev.StationaryCm != nil {
			stationary = sql.NullInt64{Int64: int64(*ev.StationaryCm), Valid: true}
		}
		if _, err := insEvent.Exec(id, ev.Time, ev.Latitude, ev.Longitude, ev.OvertakerCm, stationary); err != nil {
			return fmt.Errorf("insert overtake for %s: %w", id, err)
		}
	}

	insPoint, err := tx.Prepare(`INSERT INTO route_points (trip_id, seq, latitude, longitude) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare route points: %w", err)
	}
	defer insPoint.Close()
	for i, c := range report.Route {
		if _, err := insPoint.Exec(id, i, c.Latitude, c.Longitude); err != nil {
			return fmt.Errorf("insert route point for %s: %w", id, err)
		}
	}
	return nil
}

const tripColumns = `trip_id, file_name, path, started_at, stopped_at, duration_s,
	overtakes, distance_m, bytes_written, records, frames_dropped,
	segments, measurements, route_distance_m,
	min_overtake_cm, avg_overtake_cm, max_overtake_cm,
	report_started_ms, report_duration_s`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*Trip, error) {
	var (
		t                  Trip
		id                 string
		started, stopped   int64
		segments, measured sql.NullInt64
		routeDist, avgCm   sql.NullFloat64
		minCm, maxCm       sql.NullInt64
		reportStartedMs    sql.NullInt64
		reportDuration     sql.NullInt64
	)
	if err := row.Scan(
		&id, &t.FileName, &t.Path, &started, &stopped, &t.DurationSeconds,
		&t.Overtakes, &t.DistanceMeters, &t.BytesWritten, &t.Records, &t.FramesDropped,
		&segments, &measured, &routeDist,
		&minCm, &avgCm, &maxCm,
		&reportStartedMs, &reportDuration,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("trip id %q: %w", id, err)
	}
	t.ID = parsed
	t.StartedAt = time.Unix(started, 0).UTC()
	t.StoppedAt = time.Unix(stopped, 0).UTC()

	if segments.Valid {
		t.HasReport = true
		t.Segments = int(segments.Int64)
		t.Measurements = int(measured.Int64)
		t.RouteDistanceMeters = routeDist.Float64
	}
	if minCm.Valid {
		v := int(minCm.Int64)
		t.MinOvertakeCm = &v
	}
	if avgCm.Valid {
		v := avgCm.Float64
		t.AvgOvertakeCm = &v
	}
	if maxCm.Valid {
		v := int(maxCm.Int64)
		t.MaxOvertakeCm = &v
	}
	if reportStartedMs.Valid {
		t.ReportStartedAt = time.UnixMilli(reportStartedMs.Int64).UTC()
	}
	if reportDuration.Valid {
		v := reportDuration.Int64
		t.ReportDurationSeconds = &v
	}
	return &t, nil
}

// Trips returns up to limit trips, newest first. A limit of zero or less
// returns every trip.
func (db *DB) Trips(limit int) ([]Trip, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+tripColumns+` FROM trips ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// Trip returns the trip with the given ID.
func (db *DB) Trip(id uuid.UUID) (*Trip, error) {
	t, err := scanTrip(db.QueryRow(`SELECT `+tripColumns+` FROM trips WHERE trip_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trip %s: %w", id, err)
	}
	return t, nil
}

// TripReport rebuilds the stored report of a trip. ok is false when the
// trip was saved without one. Reports stored without their own timing fall
// back to the trip's recorder clock.
func (db *DB) TripReport(id uuid.UUID) (report *track.Report, ok bool, err error) {
	t, err := db.Trip(id)
	if err != nil {
		return nil, false, err
	}
	if !t.HasReport {
		return nil, false, nil
	}

	report = &track.Report{
		Route:             []track.Coordinate{},
		Segments:          t.Segments,
		Events:            []track.OvertakeEvent{},
		TotalMeasurements: t.Measurements,
		DurationSeconds:   t.DurationSeconds,
		StartedAt:         t.StartedAt,
		DistanceMeters:    t.RouteDistanceMeters,
	}
	if t.ReportDurationSeconds != nil {
		report.DurationSeconds = *t.ReportDurationSeconds
		report.StartedAt = t.ReportStartedAt
	}

	rows, err := db.Query(`SELECT latitude, longitude FROM route_points WHERE trip_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, false, fmt.Errorf("query route of %s: %w", id, err)
	}
	for rows.Next() {
		var c track.Coordinate
		if err := rows.Scan(&c.Latitude, &c.Longitude); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("scan route point: %w", err)
		}
		report.Route = append(report.Route, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rows, err = db.Query(`SELECT time_s, latitude, longitude, overtaker_cm, stationary_cm
		FROM overtakes WHERE trip_id = ? ORDER BY time_s, overtake_id`, id.String())
	if err != nil {
		return nil, false, fmt.Errorf("query overtakes of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev         track.OvertakeEvent
			stationary sql.NullInt64
		)
		if err := rows.Scan(&ev.Time, &ev.Latitude, &ev.Longitude, &ev.OvertakerCm, &stationary); err != nil {
			return nil, false, fmt.Errorf("scan overtake: %w", err)
		}
		if stationary.Valid {
			v := int(stationary.Int64)
			ev.StationaryCm = &v
		}
		report.Events = append(report.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if n := len(report.Events); n > 0 {
		report.Stats = track.OvertakeStats{Count: n, AvgCm: *t.AvgOvertakeCm, MinCm: *t.MinOvertakeCm, MaxCm: *t.MaxOvertakeCm}
	}
	return report, true, nil
}

// TotalStats sums every stored trip.
func (db *DB) TotalStats() (TotalStats, error) {
	var (
		s        TotalStats
		meters   float64
		duration int64
	)
	err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(overtakes), 0),
			COALESCE(SUM(distance_m), 0), COALESCE(SUM(duration_s), 0)
		FROM trips`).Scan(&s.Sessions, &s.Overtakes, &meters, &duration)
	if err != nil {
		return TotalStats{}, fmt.Errorf("query total stats: %w", err)
	}
	s.DistanceKm = meters / 1000
	s.DurationMinutes = duration / 60
	return s, nil
}

// DeleteTrip removes a trip with its overtakes and route.
func (db *DB) DeleteTrip(id uuid.UUID) error {
	res, err := db.Exec(`DELETE FROM trips WHERE trip_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete trip %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trip %s: %w", id, err)
	}
	if n == 0 {
		return ErrTripNotFound
	}
	return nil
}
