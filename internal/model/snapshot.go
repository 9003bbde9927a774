package model

import (
	"math"
	"sort"

	"github.com/banshee-data/hrv.report/internal/history"
	"github.com/banshee-data/hrv.report/internal/hrv"
	"github.com/banshee-data/hrv.report/internal/sensor"
	"github.com/banshee-data/hrv.report/internal/spectrum"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// Series names accepted by Series.
const (
	SeriesChest         = "chest"
	SeriesBreathingRate = "breathing_rate"
	SeriesHeartRate     = "heart_rate"
	SeriesIBI           = "ibi"
	SeriesHRV           = "hrv"
	SeriesRMSSD         = "rmssd"
	SeriesMaxMin        = "maxmin"
	SeriesSDNN          = "sdnn"
	SeriesNN50          = "nn50"
	SeriesPNN50         = "pnn50"
	SeriesCoherence     = "coherence"
	SeriesECG           = "ecg"
)

// Series returns the history buffer registered under name.
func (m *Model) Series(name string) (*history.Buffer, bool) {
	var b *history.Buffer
	switch name {
	case SeriesChest:
		b = m.breath.ChestHistory()
	case SeriesBreathingRate:
		b = m.breath.RateHistory()
	case SeriesHeartRate:
		b = m.hrv.HRHistory()
	case SeriesIBI:
		b = m.hrv.IBIHistory()
	case SeriesHRV:
		b = m.hrv.HRVHistory()
	case SeriesRMSSD:
		b = m.hrv.RMSSDHistory()
	case SeriesMaxMin:
		b = m.hrv.MaxMinHistory()
	case SeriesSDNN:
		b = m.hrv.SDNNHistory()
	case SeriesNN50:
		b = m.hrv.NN50History()
	case SeriesPNN50:
		b = m.hrv.PNN50History()
	case SeriesCoherence:
		b = m.hrv.CoherenceHistory()
	case SeriesECG:
		b = m.ecg
	default:
		return nil, false
	}
	return b, true
}

// SeriesNames lists every name Series accepts, sorted.
func SeriesNames() []string {
	names := []string{
		SeriesChest, SeriesBreathingRate, SeriesHeartRate, SeriesIBI, SeriesHRV,
		SeriesRMSSD, SeriesMaxMin, SeriesSDNN, SeriesNN50, SeriesPNN50,
		SeriesCoherence, SeriesECG,
	}
	sort.Strings(names)
	return names
}

// Metrics holds the latest scalar values. Nil fields have no value yet.
type Metrics struct {
	Time            float64  `json:"t"`
	Connected       bool     `json:"connected"`
	ReportedHR      int      `json:"reported_hr,omitempty"`
	HeartRate       *float64 `json:"heart_rate"`
	IBI             *float64 `json:"ibi"`
	BreathingRate   *float64 `json:"breathing_rate"`
	HRV             *float64 `json:"hrv"`
	RMSSD           *float64 `json:"rmssd"`
	MaxMin          *float64 `json:"maxmin"`
	SDNN            *float64 `json:"sdnn"`
	PNN50           *float64 `json:"pnn50"`
	BreathCoherence *float64 `json:"breath_coherence"`
	HRCoherence     *float64 `json:"hr_coherence"`
	PacingRate      float64  `json:"pacing_rate"`
}

// Snapshot is a copy of everything a presentation layer draws.
// Series times are relative to Metrics.Time.
type Snapshot struct {
	Metrics        Metrics                    `json:"metrics"`
	Device         sensor.DeviceInfo          `json:"device"`
	Series         map[string][]history.Point `json:"series"`
	BreathMarkers  []history.Point            `json:"breath_markers"`
	BreathSpectrum *spectrum.Result           `json:"breath_spectrum,omitempty"`
	HRSpectrum     *spectrum.Result           `json:"hr_spectrum,omitempty"`
	LastBreath     *hrv.BreathMetrics         `json:"last_breath,omitempty"`
	LastCycleIBI   []float64                  `json:"last_cycle_ibi"`
}

func spectrumOf(res spectrum.Result, ok bool) *spectrum.Result {
	if !ok {
		return nil
	}
	return &res
}

func latest(b *history.Buffer) *float64 {
	_, v := b.Last()
	return finite(v)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Metrics returns the latest scalar values.
func (m *Model) Metrics() Metrics {
	m.stateMu.RLock()
	reported, pacing := m.reportedHR, m.pacingRate
	m.stateMu.RUnlock()

	var breathCoh *float64
	if _, ok := m.breath.Spectrum(); ok {
		breathCoh = finite(m.breath.Coherence())
	}
	var br *float64
	if !m.breath.RateHistory().IsEmpty() {
		br = finite(m.breath.BreathingRate())
	}

	return Metrics{
		Time:            timeutil.NowSeconds(m.clock),
		Connected:       m.Connected(),
		ReportedHR:      reported,
		HeartRate:       latest(m.hrv.HRHistory()),
		IBI:             latest(m.hrv.IBIHistory()),
		BreathingRate:   br,
		HRV:             latest(m.hrv.HRVHistory()),
		RMSSD:           latest(m.hrv.RMSSDHistory()),
		MaxMin:          latest(m.hrv.MaxMinHistory()),
		SDNN:            latest(m.hrv.SDNNHistory()),
		PNN50:           latest(m.hrv.PNN50History()),
		BreathCoherence: breathCoh,
		HRCoherence:     finite(m.hrv.Coherence()),
		PacingRate:      pacing,
	}
}

// Snapshot copies every series, both spectra and the latest metrics.
func (m *Model) Snapshot() Snapshot {
	metrics := m.Metrics()
	now := metrics.Time

	s := Snapshot{
		Metrics:        metrics,
		Device:         m.Device(),
		Series:         make(map[string][]history.Point),
		BreathMarkers:  m.breath.ChestHistory().MarkerPoints(now),
		BreathSpectrum: spectrumOf(m.breath.Spectrum()),
		HRSpectrum:     spectrumOf(m.hrv.Spectrum()),
		LastCycleIBI:   m.hrv.LastCycleIBI(),
	}
	for _, name := range SeriesNames() {
		b, _ := m.Series(name)
		s.Series[name] = b.Points(now)
	}

	m.stateMu.RLock()
	if m.lastBreath.HasMetrics {
		bm := m.lastBreath.Metrics
		s.LastBreath = &bm
	}
	m.stateMu.RUnlock()
	return s
}
