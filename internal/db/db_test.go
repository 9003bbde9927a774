package db

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hrv.report/internal/breath"
	"github.com/banshee-data/hrv.report/internal/hrv"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "hrv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrv.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(LatestVersion), v)

	require.NoError(t, db.MigrateUp(), "already at the latest version")

	require.NoError(t, db.MigrateDown())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(LatestVersion-1), v)

	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM spectra").Scan(&n)
	assert.Error(t, err, "spectra table is dropped by the down migration")

	require.NoError(t, db.MigrateForce(LatestVersion-1))
	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM spectra").Scan(&n))
}

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	s, err := db.StartSession(ctx, Session{Started: start, SensorModel: "PolarH10", DeviceSerial: "A1B2", PacingRate: 6})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := db.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Started.Equal(start))
	assert.True(t, got.Ended.IsZero())
	assert.Equal(t, "A1B2", got.DeviceSerial)
	assert.Equal(t, 6.0, got.PacingRate)

	require.NoError(t, db.EndSession(ctx, s.ID, start.Add(10*time.Minute)))
	got, err = db.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Ended.Equal(start.Add(10*time.Minute)))

	assert.ErrorIs(t, db.EndSession(ctx, "nope", start), ErrSessionNotFound)
	_, err = db.Session(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	later, err := db.StartSession(ctx, Session{Started: start.Add(time.Hour)})
	require.NoError(t, err)
	all, err := db.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, later.ID, all[0].ID, "newest first")
}

func TestBreathsAndSpectra(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s, err := db.StartSession(ctx, Session{Started: time.Unix(1000, 0)})
	require.NoError(t, err)

	require.NoError(t, db.InsertBreath(ctx, s.ID, model.BreathEvent{
		Breath: breath.Breath{Time: 1010, Rate: 6},
	}))
	require.NoError(t, db.InsertBreath(ctx, s.ID, model.BreathEvent{
		Breath:     breath.Breath{Time: 1020, Rate: 6.1},
		Metrics:    hrv.BreathMetrics{Time: 1020, RMSSD: 42, MaxMin: 120, SDNN: 35},
		HasMetrics: true,
	}))

	breaths, err := db.Breaths(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, breaths, 2)
	assert.Nil(t, breaths[0].RMSSD)
	require.NotNil(t, breaths[1].RMSSD)
	assert.Equal(t, 42.0, *breaths[1].RMSSD)
	assert.Equal(t, 120.0, *breaths[1].MaxMin)
	assert.Equal(t, 6.1, breaths[1].Rate)

	require.NoError(t, db.InsertSpectra(ctx, s.ID, model.SpectraEvent{
		Time: 1030, BreathSpectrum: true, BreathCoherence: 0.8,
		HRCoherence: math.NaN(), PNN50: 12.5, HasPNN50: true,
	}))
	spectra, err := db.Spectra(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, spectra, 1)
	require.NotNil(t, spectra[0].BreathCoherence)
	assert.Equal(t, 0.8, *spectra[0].BreathCoherence)
	assert.Nil(t, spectra[0].HRCoherence, "NaN is stored as NULL")
	assert.Equal(t, 12.5, *spectra[0].PNN50)

	err = db.InsertBreath(ctx, "missing-session", model.BreathEvent{Breath: breath.Breath{Time: 1, Rate: 1}})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestSQLErrorsAreWrapped(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := Wrap(sqlDB)
	ctx := context.Background()
	boom := errors.New("disk full")

	mock.ExpectExec("INSERT INTO sessions").WillReturnError(boom)
	_, err = db.StartSession(ctx, Session{})
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec("UPDATE sessions").WillReturnResult(sqlmock.NewErrorResult(boom))
	assert.ErrorIs(t, db.EndSession(ctx, "x", time.Now()), boom)

	mock.ExpectQuery("SELECT (.+) FROM sessions").WillReturnError(boom)
	_, err = db.Sessions(ctx)
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery("FROM breaths").
		WillReturnRows(sqlmock.NewRows([]string{"breath_unix", "breathing_rate", "rmssd", "maxmin", "sdnn"}).
			AddRow(1.0, 6.0, nil, nil, nil).
			RowError(0, boom))
	_, err = db.Breaths(ctx, "x")
	assert.Error(t, err)

	mock.ExpectExec("INSERT INTO spectra").WillReturnError(boom)
	assert.ErrorIs(t, db.InsertSpectra(ctx, "x", model.SpectraEvent{}), boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s, err := db.StartSession(ctx, Session{Started: time.Unix(1000, 0)})
	require.NoError(t, err)

	rec := NewRecorder(db, s.ID, 0)
	m := model.New(model.Options{})
	rec.Attach(m)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- rec.Run(runCtx) }()

	rec.RecordBreath(model.BreathEvent{Breath: breath.Breath{Time: 1010, Rate: 6}})
	m.UpdateSpectra()

	require.Eventually(t, func() bool { return rec.Written() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	breaths, err := db.Breaths(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, breaths, 1)
	spectra, err := db.Spectra(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, spectra, 1)
	assert.Nil(t, spectra[0].BreathCoherence, "no spectrum was computed yet")
}

func TestRecorderDropsWhenFull(t *testing.T) {
	rec := NewRecorder(nil, "s", 1)
	rec.RecordBreath(model.BreathEvent{})
	rec.RecordBreath(model.BreathEvent{})
	rec.RecordSpectra(model.SpectraEvent{})
	assert.Equal(t, int64(2), rec.Dropped())
}

func TestRecorderFlushesOnCancel(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession(context.Background(), Session{Started: time.Unix(1000, 0)})
	require.NoError(t, err)

	rec := NewRecorder(db, s.ID, 4)
	rec.RecordBreath(model.BreathEvent{Breath: breath.Breath{Time: 1, Rate: 6}})
	rec.RecordBreath(model.BreathEvent{Breath: breath.Breath{Time: 2, Rate: 6}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = rec.Run(ctx)

	breaths, err := db.Breaths(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, breaths, 2)
}

func TestBackupRoute(t *testing.T) {
	db := newTestDB(t)
	_, err := db.StartSession(context.Background(), Session{Started: time.Unix(1000, 0)})
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
