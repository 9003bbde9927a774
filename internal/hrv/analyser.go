// Package hrv tracks inter-beat intervals and derives heart rate, peak-trough
// heart rate variability, per-breath statistics, pNN50 and heart rate
// coherence.
package hrv

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/hrv.report/internal/history"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/spectrum"
)

const (
	// IBI plausibility band in milliseconds.
	MinIBI = 300.0
	MaxIBI = 1600.0

	// MinHRVFraction rejects an HRV value smaller than this fraction of the
	// smaller of the previous two values.
	MinHRVFraction = 0.2

	// NN50Threshold is the successive-difference threshold in milliseconds.
	NN50Threshold = 50.0

	// ResampleInterval is the uniform spacing (s) IBIs are interpolated to
	// before the heart rate spectrum: 90 bpm at most, 0.75 Hz Nyquist.
	ResampleInterval = 60.0 / 90.0

	IBIHistorySize    = 1500
	MetricHistorySize = 500
)

// Analyser consumes IBIs from a single sensor. Updates must come from one
// goroutine; accessors may be called from any goroutine.
type Analyser struct {
	mu sync.RWMutex

	seeded        bool
	phaseDuration float64 // ms accumulated in the current IBI phase
	lastPhase     float64
	lastExtreme   float64
	lastCycle     []float64

	spec       spectrum.Result
	hasSpec    bool
	pacingFreq float64 // Hz, 0 = integrate around the dominant peak

	ibi       *history.Buffer
	hr        *history.Buffer
	hrv       *history.Buffer
	rmssd     *history.Buffer
	maxmin    *history.Buffer
	sdnn      *history.Buffer
	nn50      *history.Buffer
	pnn50     *history.Buffer
	coherence *history.Buffer
}

// New returns an empty Analyser.
func New() *Analyser {
	return &Analyser{
		ibi:       history.New(IBIHistorySize),
		hr:        history.New(MetricHistorySize),
		hrv:       history.New(MetricHistorySize),
		rmssd:     history.New(MetricHistorySize),
		maxmin:    history.New(MetricHistorySize),
		sdnn:      history.New(MetricHistorySize),
		nn50:      history.New(MetricHistorySize),
		pnn50:     history.New(MetricHistorySize),
		coherence: history.New(MetricHistorySize),
	}
}

// Update records one IBI (ms) received at t (epoch s). IBIs outside
// [MinIBI, MaxIBI] are discarded. When the IBI reveals a local extreme of
// the IBI series, the peak-trough difference to the previous extreme is
// recorded as HRV and returned.
func (a *Analyser) Update(t, ibi float64) (float64, bool) {
	if !(ibi >= MinIBI && ibi <= MaxIBI) {
		monitoring.Logf("hrv: discarding ibi %.0f ms at %.2f", ibi, t)
		return 0, false
	}

	a.ibi.Update(t, ibi)
	a.hr.Update(t, 60000/ibi)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.phaseDuration += ibi
	if !a.seeded {
		a.seeded = true
		a.lastExtreme = ibi
		return 0, false
	}

	_, prev := a.ibi.FromEnd(2)
	phase := sign(ibi - prev)
	if phase == 0 || phase == a.lastPhase {
		return 0, false
	}
	if a.lastPhase == 0 {
		// first direction of travel: the run starts at prev
		a.lastPhase = phase
		a.lastExtreme = prev
		return 0, false
	}

	extreme := prev
	hrv := math.Abs(a.lastExtreme - extreme)

	if floor, ok := a.hrvFloor(); ok && hrv < floor {
		monitoring.Logf("hrv: discarding hrv %.0f ms at %.2f, below %.0f ms", hrv, t, floor)
		return 0, false
	}

	a.hrv.Update(t, hrv)
	a.phaseDuration = 0
	a.lastExtreme = extreme
	a.lastPhase = phase
	return hrv, true
}

// hrvFloor returns MinHRVFraction times the smaller of the two newest HRV
// values, ignoring empty slots.
func (a *Analyser) hrvFloor() (float64, bool) {
	_, v1 := a.hrv.FromEnd(1)
	_, v2 := a.hrv.FromEnd(2)
	lo := math.Inf(1)
	for _, v := range []float64{v1, v2} {
		if !math.IsNaN(v) {
			lo = math.Min(lo, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, false
	}
	return MinHRVFraction * lo, true
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// PhaseDuration returns the milliseconds of IBI accumulated since the last
// recorded extreme.
func (a *Analyser) PhaseDuration() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phaseDuration
}

// BreathMetrics are the IBI statistics of one breath.
type BreathMetrics struct {
	Time   float64 `json:"t"`
	RMSSD  float64 `json:"rmssd"`
	MaxMin float64 `json:"maxmin"`
	SDNN   float64 `json:"sdnn"`
}

// UpdateBreathByBreathMetrics computes RMSSD, maxmin and SDNN over the IBIs
// received after t0 and stores them at t1. Breaths holding fewer than two
// IBIs are skipped.
func (a *Analyser) UpdateBreathByBreathMetrics(t0, t1 float64) (BreathMetrics, bool) {
	times := a.ibi.Times()
	values := a.ibi.Values()

	var window, diffs []float64
	for i, tm := range times {
		if !(tm > t0) || math.IsNaN(values[i]) {
			continue
		}
		window = append(window, values[i])
		if i > 0 && !math.IsNaN(values[i-1]) {
			d := values[i] - values[i-1]
			diffs = append(diffs, d*d)
		}
	}
	if len(window) < 2 || len(diffs) == 0 {
		return BreathMetrics{}, false
	}

	m := BreathMetrics{
		Time:   t1,
		RMSSD:  math.Sqrt(stat.Mean(diffs, nil)),
		MaxMin: floats.Max(window) - floats.Min(window),
		SDNN:   stat.StdDev(window, nil),
	}
	a.mu.Lock()
	a.lastCycle = window
	a.mu.Unlock()

	a.rmssd.Update(t1, m.RMSSD)
	a.maxmin.Update(t1, m.MaxMin)
	a.sdnn.Update(t1, m.SDNN)
	return m, true
}

// trailingWindow returns the non-NaN IBIs within WindowSeconds of the
// newest IBI.
func (a *Analyser) trailingWindow() (times, values []float64) {
	last, _ := a.ibi.Last()
	if math.IsNaN(last) {
		return nil, nil
	}
	return a.ibi.Since(last - spectrum.WindowSeconds)
}

// UpdateNN50 counts successive IBI differences above 50 ms over the trailing
// 30 s and records NN50 and pNN50 at the newest IBI time.
func (a *Analyser) UpdateNN50() (nn50, pnn50 float64, ok bool) {
	times, values := a.trailingWindow()
	if len(values) < 2 {
		return 0, 0, false
	}
	for i := 1; i < len(values); i++ {
		if math.Abs(values[i]-values[i-1]) > NN50Threshold {
			nn50++
		}
	}
	pnn50 = 100 * nn50 / float64(len(values)-1)
	t := times[len(times)-1]
	a.nn50.Update(t, nn50)
	a.pnn50.Update(t, pnn50)
	return nn50, pnn50, true
}

// UpdateCoherence recomputes the heart rate spectrum over the trailing 30 s
// and appends the coherence score at the newest IBI time. It returns false,
// leaving the previous result in place, when there is not enough data.
func (a *Analyser) UpdateCoherence() bool {
	times, values := a.trailingWindow()
	if len(values) < 3 {
		return false
	}
	_, resampled := spectrum.Resample(times, values, ResampleInterval)

	a.mu.Lock()
	res, ok := spectrum.AnalyseAround(resampled, 1/ResampleInterval, a.pacingFreq)
	if ok {
		a.spec = res
		a.hasSpec = true
	}
	a.mu.Unlock()
	if !ok {
		return false
	}

	a.coherence.Update(times[len(times)-1], res.Coherence)
	return true
}

// SetPacingRate centres the coherence band on a pacing rate in breaths per
// minute. A rate that is not positive uses the dominant frequency.
func (a *Analyser) SetPacingRate(rate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pacingFreq = math.Max(rate, 0) / 60
}

// Spectrum returns the latest heart rate spectrum.
func (a *Analyser) Spectrum() (spectrum.Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spec, a.hasSpec
}

// Coherence returns the latest heart rate coherence, or NaN before the
// first spectrum.
func (a *Analyser) Coherence() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hasSpec {
		return math.NaN()
	}
	return a.spec.Coherence
}

// IBISubHistory returns the IBIs in [t0, t1], for example the beats of the
// last breath cycle.
func (a *Analyser) IBISubHistory(t0, t1 float64) *history.Buffer {
	return a.ibi.SubBuffer(t0, t1)
}

// LastCycleIBI returns the IBIs of the most recent breath that produced
// metrics, oldest first.
func (a *Analyser) LastCycleIBI() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.lastCycle...)
}

// History accessors.
func (a *Analyser) IBIHistory() *history.Buffer       { return a.ibi }
func (a *Analyser) HRHistory() *history.Buffer        { return a.hr }
func (a *Analyser) HRVHistory() *history.Buffer       { return a.hrv }
func (a *Analyser) RMSSDHistory() *history.Buffer     { return a.rmssd }
func (a *Analyser) MaxMinHistory() *history.Buffer    { return a.maxmin }
func (a *Analyser) SDNNHistory() *history.Buffer      { return a.sdnn }
func (a *Analyser) NN50History() *history.Buffer      { return a.nn50 }
func (a *Analyser) PNN50History() *history.Buffer     { return a.pnn50 }
func (a *Analyser) CoherenceHistory() *history.Buffer { return a.coherence }
