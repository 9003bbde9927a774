package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one recording, from connect to disconnect.
type Session struct {
	ID           string    `json:"session_id"`
	Started      time.Time `json:"started"`
	Ended        time.Time `json:"ended,omitempty"` // zero while open
	SensorModel  string    `json:"sensor_model"`
	DeviceSerial string    `json:"device_serial"`
	DeviceModel  string    `json:"device_model"`
	PacingRate   float64   `json:"pacing_rate"`
}

// BreathRow is one persisted breath. Metric fields are nil for breaths
// that had too few IBIs.
type BreathRow struct {
	SessionID string   `json:"session_id"`
	Time      float64  `json:"t"`
	Rate      float64  `json:"breathing_rate"`
	RMSSD     *float64 `json:"rmssd"`
	MaxMin    *float64 `json:"maxmin"`
	SDNN      *float64 `json:"sdnn"`
}

// SpectraRow is one persisted spectra update.
type SpectraRow struct {
	SessionID       string   `json:"session_id"`
	Time            float64  `json:"t"`
	BreathCoherence *float64 `json:"breath_coherence"`
	HRCoherence     *float64 `json:"hr_coherence"`
	PNN50           *float64 `json:"pnn50"`
}

func nullable(v float64, valid bool) sql.NullFloat64 {
	if !valid || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func pointer(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// StartSession inserts s, assigning a new ID when s.ID is empty.
func (db *DB) StartSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix, sensor_model, device_serial, device_model, pacing_rate)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, timeutil.Seconds(s.Started), s.SensorModel, s.DeviceSerial, s.DeviceModel, s.PacingRate,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of an open session.
func (db *DB) EndSession(ctx context.Context, id string, ended time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended_unix = ? WHERE session_id = ?`,
		timeutil.Seconds(ended), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var started float64
	var ended sql.NullFloat64
	if err := row.Scan(&s.ID, &started, &ended, &s.SensorModel, &s.DeviceSerial, &s.DeviceModel, &s.PacingRate); err != nil {
		return Session{}, err
	}
	s.Started = timeutil.FromSeconds(started).UTC()
	if ended.Valid {
		s.Ended = timeutil.FromSeconds(ended.Float64).UTC()
	}
	return s, nil
}

const sessionColumns = `session_id, started_unix, ended_unix, sensor_model, device_serial, device_model, pacing_rate`

// Session returns the session with id.
func (db *DB) Session(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return s, nil
}

// Sessions returns every session, newest first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// InsertBreath stores one breath event.
func (db *DB) InsertBreath(ctx context.Context, sessionID string, ev model.BreathEvent) error {
	m := ev.Metrics
	_, err := db.ExecContext(ctx,
		`INSERT INTO breaths (session_id, breath_unix, breathing_rate, rmssd, maxmin, sdnn)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, ev.Breath.Time, ev.Breath.Rate,
		nullable(m.RMSSD, ev.HasMetrics), nullable(m.MaxMin, ev.HasMetrics), nullable(m.SDNN, ev.HasMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to insert breath: %w", err)
	}
	return nil
}

// Breaths returns the breaths of a session in time order.
func (db *DB) Breaths(ctx context.Context, sessionID string) ([]BreathRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT breath_unix, breathing_rate, rmssd, maxmin, sdnn
		 FROM breaths WHERE session_id = ? ORDER BY breath_unix`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list breaths: %w", err)
	}
	defer rows.Close()

	var out []BreathRow
	for rows.Next() {
		r := BreathRow{SessionID: sessionID}
		var rmssd, maxmin, sdnn sql.NullFloat64
		if err := rows.Scan(&r.Time, &r.Rate, &rmssd, &maxmin, &sdnn); err != nil {
			return nil, fmt.Errorf("failed to scan breath: %w", err)
		}
		r.RMSSD, r.MaxMin, r.SDNN = pointer(rmssd), pointer(maxmin), pointer(sdnn)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertSpectra stores one spectra update. Values that were not computed
// are stored as NULL.
func (db *DB) InsertSpectra(ctx context.Context, sessionID string, ev model.SpectraEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO spectra (session_id, spectra_unix, breath_coherence, hr_coherence, pnn50)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, ev.Time,
		nullable(ev.BreathCoherence, ev.BreathSpectrum),
		nullable(ev.HRCoherence, ev.HRSpectrum),
		nullable(ev.PNN50, ev.HasPNN50),
	)
	if err != nil {
		return fmt.Errorf("failed to insert spectra: %w", err)
	}
	return nil
}

// Spectra returns the spectra updates of a session in time order.
func (db *DB) Spectra(ctx context.Context, sessionID string) ([]SpectraRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT spectra_unix, breath_coherence, hr_coherence, pnn50
		 FROM spectra WHERE session_id = ? ORDER BY spectra_unix`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spectra: %w", err)
	}
	defer rows.Close()

	var out []SpectraRow
	for rows.Next() {
		r := SpectraRow{SessionID: sessionID}
		var bc, hc, pnn sql.NullFloat64
		if err := rows.Scan(&r.Time, &bc, &hc, &pnn); err != nil {
			return nil, fmt.Errorf("failed to scan spectra: %w", err)
		}
		r.BreathCoherence, r.HRCoherence, r.PNN50 = pointer(bc), pointer(hc), pointer(pnn)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
