package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/overtake.report/internal/monitoring"
	"github.com/banshee-data/overtake.report/internal/recording"
	"github.com/banshee-data/overtake.report/internal/track"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	db, err := NewDB(filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func summaryAt(start time.Time, overtakes int, meters float64) *recording.TripSummary {
	return &recording.TripSummary{
		ID:              uuid.New(),
		FileName:        "trip_" + start.Format("20060102_150405") + ".bin",
		Path:            "/rec/trip_" + start.Format("20060102_150405") + ".bin",
		StartedAt:       start,
		StoppedAt:       start.Add(30 * time.Minute),
		DurationSeconds: 1800,
		Overtakes:       overtakes,
		DistanceMeters:  meters,
		BytesWritten:    4096,
		Records:         120,
		FramesDropped:   1,
	}
}

func sampleReport() *track.Report {
	stationary := 140
	return &track.Report{
		Route: []track.Coordinate{
			{Latitude: 48.1, Longitude: 11.5},
			{Latitude: 48.1001, Longitude: 11.5},
			{Latitude: 48.1002, Longitude: 11.5},
		},
		Segments: 1,
		Events: []track.OvertakeEvent{
			{Time: 1_700_000_004, Latitude: 48.1001, Longitude: 11.5, OvertakerCm: 95, StationaryCm: &stationary},
			{Time: 1_700_000_009, Latitude: 48.1002, Longitude: 11.5, OvertakerCm: 130},
		},
		TotalMeasurements: 42,
		DurationSeconds:   1800,
		StartedAt:         time.Unix(1_700_000_000, 0).UTC(),
		DistanceMeters:    22.2,
		Stats:             track.OvertakeStats{Count: 2, MinCm: 95, MaxCm: 130, AvgCm: 112.5},
	}
}

var start = time.Date(2024, 7, 3, 8, 0, 0, 0, time.UTC)

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), latest)
	assert.Equal(t, latest, version)

	for _, table := range []string{"trips", "overtakes", "route_points"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestNewDB_ReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveTrip(summaryAt(start, 1, 10), nil))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	trips, err := db.Trips(0)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('trips') WHERE name='report_duration_s'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='overtakes'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}

func TestSaveTrip_WithReport(t *testing.T) {
	db := newTestDB(t)
	summary := summaryAt(start, 2, 5400)
	report := sampleReport()
	require.NoError(t, db.SaveTrip(summary, report))

	got, err := db.Trip(summary.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.ID, got.ID)
	assert.Equal(t, summary.FileName, got.FileName)
	assert.Equal(t, summary.StartedAt, got.StartedAt)
	assert.Equal(t, summary.StoppedAt, got.StoppedAt)
	assert.Equal(t, 2, got.Overtakes)
	assert.Equal(t, 5400.0, got.DistanceMeters)
	assert.Equal(t, int64(1), got.FramesDropped)
	assert.True(t, got.HasReport)
	assert.Equal(t, 42, got.Measurements)
	require.NotNil(t, got.MinOvertakeCm)
	assert.Equal(t, 95, *got.MinOvertakeCm)
	assert.Equal(t, 130, *got.MaxOvertakeCm)
	assert.Equal(t, 112.5, *got.AvgOvertakeCm)

	rebuilt, ok, err := db.TripReport(summary.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.Route, rebuilt.Route)
	assert.Equal(t, report.Events, rebuilt.Events)
	assert.Equal(t, report.Stats, rebuilt.Stats)
	assert.Equal(t, report.Segments, rebuilt.Segments)
	assert.Equal(t, report.DistanceMeters, rebuilt.DistanceMeters)
}

func TestTripReport_TimingFromLog(t *testing.T) {
	db := newTestDB(t)
	// The recorder ran longer than the log's own timestamps span.
	summary := summaryAt(start, 2, 5400)
	summary.DurationSeconds = 2400
	report := sampleReport()
	report.StartedAt = time.UnixMilli(1_700_000_000_250).UTC()
	report.DurationSeconds = 1795
	require.NoError(t, db.SaveTrip(summary, report))

	got, err := db.Trip(summary.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StartedAt, got.ReportStartedAt)
	require.NotNil(t, got.ReportDurationSeconds)
	assert.Equal(t, int64(1795), *got.ReportDurationSeconds)

	rebuilt, ok, err := db.TripReport(summary.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1795), rebuilt.DurationSeconds)
	assert.Equal(t, report.StartedAt, rebuilt.StartedAt)
	assert.NotEqual(t, summary.StartedAt, rebuilt.StartedAt)
}

func TestTripReport_LegacyRowFallsBackToSummary(t *testing.T) {
	db := newTestDB(t)
	summary := summaryAt(start, 2, 5400)
	require.NoError(t, db.SaveTrip(summary, sampleReport()))
	_, err := db.Exec(`UPDATE trips SET report_started_ms = NULL, report_duration_s = NULL WHERE trip_id = ?`, summary.ID.String())
	require.NoError(t, err)

	rebuilt, ok, err := db.TripReport(summary.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary.DurationSeconds, rebuilt.DurationSeconds)
	assert.Equal(t, summary.StartedAt, rebuilt.StartedAt)
}

func TestSaveTrip_WithoutReport(t *testing.T) {
	db := newTestDB(t)
	summary := summaryAt(start, 1, 0)
	require.NoError(t, db.SaveTrip(summary, nil))

	got, err := db.Trip(summary.ID)
	require.NoError(t, err)
	assert.False(t, got.HasReport)
	assert.Nil(t, got.MinOvertakeCm)

	_, ok, err := db.TripReport(summary.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveTrip_ReportWithoutEvents(t *testing.T) {
	db := newTestDB(t)
	summary := summaryAt(start, 0, 800)
	report := sampleReport()
	report.Events = []track.OvertakeEvent{}
	report.Stats = track.OvertakeStats{}
	require.NoError(t, db.SaveTrip(summary, report))

	rebuilt, ok, err := db.TripReport(summary.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, rebuilt.Events)
	assert.Equal(t, track.OvertakeStats{}, rebuilt.Stats)
}

func TestSaveTrip_DuplicateIDFails(t *testing.T) {
	db := newTestDB(t)
	summary := summaryAt(start, 1, 0)
	require.NoError(t, db.SaveTrip(summary, nil))
	assert.Error(t, db.SaveTrip(summary, sampleReport()))

	// The failed transaction left nothing behind.
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM route_points`).Scan(&n))
	assert.Zero(t, n)
}

func TestTrips_NewestFirstWithLimit(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.SaveTrip(summaryAt(start.Add(time.Duration(i)*time.Hour), i, 1000), nil))
	}

	trips, err := db.Trips(3)
	require.NoError(t, err)
	require.Len(t, trips, 3)
	assert.Equal(t, start.Add(4*time.Hour), trips[0].StartedAt)
	assert.Equal(t, start.Add(2*time.Hour), trips[2].StartedAt)

	all, err := db.Trips(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestTotalStats(t *testing.T) {
	db := newTestDB(t)

	empty, err := db.TotalStats()
	require.NoError(t, err)
	assert.Equal(t, TotalStats{}, empty)

	require.NoError(t, db.SaveTrip(summaryAt(start, 3, 12_500), nil))
	require.NoError(t, db.SaveTrip(summaryAt(start.Add(time.Hour), 4, 7_500), nil))

	stats, err := db.TotalStats()
	require.NoError(t, err)
	assert.Equal(t, TotalStats{Sessions: 2, Overtakes: 7, DistanceKm: 20, DurationMinutes: 60}, stats)
}

func TestDeleteTrip(t *testing.T) {
	db := newTestDB(t)
	summary := summaryAt(start, 2, 5400)
	require.NoError(t, db.SaveTrip(summary, sampleReport()))

	require.NoError(t, db.DeleteTrip(summary.ID))
	_, err := db.Trip(summary.ID)
	assert.ErrorIs(t, err, ErrTripNotFound)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM overtakes`).Scan(&n))
	assert.Zero(t, n, "overtakes cascade with their trip")

	assert.ErrorIs(t, db.DeleteTrip(summary.ID), ErrTripNotFound)
}
