// Package breath turns chest accelerometer samples into a chest-expansion
// signal, detects breath ends and tracks breathing rate and coherence.
package breath

import (
	"math"
	"sync"

	"github.com/banshee-data/hrv.report/internal/history"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/spectrum"
)

const (
	// ChestHistorySize holds up to ~16 minutes at 10 Hz.
	ChestHistorySize = 10000
	RateHistorySize  = 500

	// MaxBreathingRate (breaths/min) above which a breath is discarded.
	MaxBreathingRate = 30.0

	// DiscPoints is the number of vertices of the breathing disc outline.
	DiscPoints = 40

	initialDiscRadius = -0.5
)

// Breath describes one accepted breath end.
type Breath struct {
	Time   float64           `json:"t"`
	Rate   float64           `json:"rate"`
	Marker history.MarkerRef `json:"marker"`
}

// Analyser consumes accelerometer samples from a single sensor. Updates must
// come from one goroutine; accessors may be called from any goroutine.
type Analyser struct {
	mu      sync.RWMutex
	profile Profile

	gravity     [3]float64
	gravitySet  bool
	accFiltered [3]float64
	tLastUpdate float64

	phaseLast     float64
	breathStart   float64
	breathingRate float64
	endOfBreath   bool

	discRadius float64

	spec       spectrum.Result
	hasSpec    bool
	pacingFreq float64 // Hz, 0 = integrate around the dominant peak

	chest *history.Buffer
	rate  *history.Buffer
}

// New returns an Analyser configured for profile.
func New(profile Profile) *Analyser {
	return &Analyser{
		profile:     profile,
		breathStart: math.NaN(),
		discRadius:  initialDiscRadius,
		chest:       history.New(ChestHistorySize),
		rate:        history.New(RateHistorySize),
	}
}

// Profile returns the active analysis parameters.
func (a *Analyser) Profile() Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile
}

// UpdateChestAcc processes one accelerometer sample taken at t (epoch s).
// It returns the breath and true when the sample completes a breath.
func (a *Analyser) UpdateChestAcc(t float64, acc [3]float64) (Breath, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.profile
	if !a.gravitySet {
		a.gravity = acc
		a.gravitySet = true
	} else {
		for i := range a.gravity {
			a.gravity[i] = p.GravityAlpha*a.gravity[i] + (1-p.GravityAlpha)*acc[i]
		}
	}
	for i := range a.accFiltered {
		unbiased := acc[i] - a.gravity[i]
		a.accFiltered[i] = p.NoiseAlpha*a.accFiltered[i] + (1-p.NoiseAlpha)*unbiased
	}

	if p.Subsample && p.SampleRate > 0 {
		if t-a.tLastUpdate < 1/p.SampleRate {
			a.endOfBreath = false
			return Breath{}, false
		}
		a.tLastUpdate = t
	}

	var chest float64
	for i := range a.accFiltered {
		chest += a.accFiltered[i] * p.ChestAxis[i]
	}
	return a.updateChest(t, chest)
}

// updateChest appends one chest expansion value and checks for a descending
// zero crossing.
func (a *Analyser) updateChest(t, chest float64) (Breath, bool) {
	a.chest.Update(t, chest)

	phase := sign(chest)
	if phase == a.phaseLast || phase >= 0 {
		a.endOfBreath = false
		a.phaseLast = phase
		return Breath{}, false
	}
	a.phaseLast = phase

	if math.IsNaN(a.breathStart) {
		a.breathStart = t
		a.endOfBreath = false
		return Breath{}, false
	}

	rate := 60 / (t - a.breathStart)
	a.breathStart = t
	if rate > MaxBreathingRate || math.IsNaN(rate) || math.IsInf(rate, 0) {
		monitoring.Logf("breath: discarding breath at %.2f, rate %.1f/min", t, rate)
		a.endOfBreath = false
		return Breath{}, false
	}

	a.endOfBreath = true
	a.breathingRate = rate
	a.rate.Update(t, rate)

	last := a.chest.Len() - 1
	a.chest.AddMarker(last)
	ref, err := a.chest.Ref(last)
	if err != nil {
		monitoring.Logf("breath: marker for breath at %.2f: %v", t, err)
	}
	return Breath{Time: t, Rate: rate, Marker: ref}, true
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

// EndOfBreath reports whether the most recent sample completed a breath.
func (a *Analyser) EndOfBreath() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.endOfBreath
}

// BreathingRate returns the most recent accepted breathing rate, or 0.
func (a *Analyser) BreathingRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.breathingRate
}

// LastBreathRange returns the end times of the two most recent breaths,
// which bound the last full breath. ok is false until two breaths exist.
func (a *Analyser) LastBreathRange() (t0, t1 float64, ok bool) {
	t0, _ = a.rate.FromEnd(2)
	t1, _ = a.rate.FromEnd(1)
	if math.IsNaN(t0) || math.IsNaN(t1) {
		return 0, 0, false
	}
	return t0, t1, true
}

// ChestHistory returns the chest expansion buffer.
func (a *Analyser) ChestHistory() *history.Buffer { return a.chest }

// RateHistory returns the breathing rate buffer.
func (a *Analyser) RateHistory() *history.Buffer { return a.rate }

// ChestSubHistory returns the chest expansion samples in [t0, t1].
func (a *Analyser) ChestSubHistory(t0, t1 float64) *history.Buffer {
	return a.chest.SubBuffer(t0, t1)
}

// DiscCoords returns the outline of a disc whose radius follows the chest
// expansion signal, smoothed and clamped to [0, 1].
func (a *Analyser) DiscCoords() (x, y []float64) {
	a.mu.Lock()
	if a.chest.IsEmpty() {
		a.discRadius = initialDiscRadius
	} else {
		_, latest := a.chest.Last()
		a.discRadius = 0.7*latest + 0.3*a.discRadius
	}
	a.discRadius = math.Min(math.Max(a.discRadius+0.5, 0), 1)
	r := a.discRadius
	a.mu.Unlock()

	return Circle(r, DiscPoints)
}

// Circle returns n points of a circle of radius r, closed so the first and
// last points coincide.
func Circle(r float64, n int) (x, y []float64) {
	x = make([]float64, n)
	y = make([]float64, n)
	if n == 1 {
		x[0] = r
		return x, y
	}
	for i := range x {
		theta := 2 * math.Pi * float64(i) / float64(n-1)
		x[i] = r * math.Cos(theta)
		y[i] = r * math.Sin(theta)
	}
	return x, y
}

// UpdateSpectrum recomputes the breathing spectrum over the trailing 30 s of
// chest expansion. It returns false, leaving the previous result in place,
// when there is not enough data.
func (a *Analyser) UpdateSpectrum() bool {
	if a.chest.NValues() < 3 {
		return false
	}
	last, _ := a.chest.Last()
	times, values := a.chest.Since(last - spectrum.WindowSeconds)
	if len(times) < 3 {
		return false
	}
	dt := times[len(times)-1] - times[len(times)-2]
	if !(dt > 0) {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := spectrum.AnalyseAround(values, 1/dt, a.pacingFreq)
	if !ok {
		return false
	}
	a.spec = res
	a.hasSpec = true
	return true
}

// SetPacingRate centres the coherence band on a pacing rate in breaths per
// minute. A rate that is not positive uses the dominant frequency.
func (a *Analyser) SetPacingRate(rate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pacingFreq = math.Max(rate, 0) / 60
}

// Spectrum returns the latest breathing spectrum.
func (a *Analyser) Spectrum() (spectrum.Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spec, a.hasSpec
}

// Coherence returns the latest breathing coherence in [0, 1].
func (a *Analyser) Coherence() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spec.Coherence
}
