// Package spectrum computes the power spectra and coherence scores shared by
// the breathing and heart-rate analysers.
package spectrum

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

const (
	// InterpStep is the frequency grid spacing (Hz) used for sub-bin integration.
	InterpStep = 0.005
	// PeakHalfWidth is half the integration band (Hz) around the dominant peak.
	PeakHalfWidth = 0.015
	// WindowSeconds is the trailing window analysed by both analysers.
	WindowSeconds = 30.0
)

// Result is one analysed spectrum.
type Result struct {
	Freqs      []float64 `json:"freqs"`
	Power      []float64 `json:"power"` // normalised to sum to one
	PeakFreq   float64   `json:"peak_freq"`
	PeakPower  float64   `json:"peak_power"`
	TotalPower float64   `json:"total_power"`
	Coherence  float64   `json:"coherence"`
}

// Periodogram returns the one-sided power spectral density of x sampled at
// fs, after removing a least-squares linear trend and applying a periodic
// Hann window.
func Periodogram(x []float64, fs float64) (freqs, psd []float64) {
	n := len(x)
	if n == 0 {
		return nil, nil
	}

	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(idx, x, nil, false)

	var wss float64
	seq := make([]float64, n)
	for i, v := range x {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
		wss += w * w
		seq[i] = (v - (alpha + beta*float64(i))) * w
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, seq)

	scale := 1 / (fs * wss)
	freqs = make([]float64, len(coeffs))
	psd = make([]float64, len(coeffs))
	for i, c := range coeffs {
		freqs[i] = fft.Freq(i) * fs
		a := cmplx.Abs(c)
		psd[i] = a * a * scale
	}
	// Fold negative frequencies; DC and Nyquist have no mirror.
	last := len(psd)
	if n%2 == 0 {
		last--
	}
	for i := 1; i < last; i++ {
		psd[i] *= 2
	}
	return freqs, psd
}

// Analyse computes the normalised periodogram of x and its coherence: the
// fraction of spectral power within PeakHalfWidth of the dominant frequency.
// ok is false when x is too short or carries no power.
func Analyse(x []float64, fs float64) (Result, bool) {
	return AnalyseAround(x, fs, 0)
}

// AnalyseAround is Analyse with the integration band centred on center (Hz),
// typically the pacing frequency. A center that is not positive selects the
// dominant frequency. PeakFreq is always the dominant frequency.
func AnalyseAround(x []float64, fs, center float64) (Result, bool) {
	if len(x) < 3 || !(fs > 0) || math.IsInf(fs, 0) {
		return Result{}, false
	}

	freqs, psd := Periodogram(x, fs)
	sum := floats.Sum(psd)
	if !(sum > 0) {
		return Result{}, false
	}
	floats.Scale(1/sum, psd)

	grid := Arange(freqs[0], freqs[len(freqs)-1], InterpStep)
	if len(grid) < 2 {
		return Result{}, false
	}
	fine := Interp(grid, freqs, psd)

	peak := grid[floats.MaxIdx(fine)]
	if !(center > 0) || math.IsInf(center, 0) {
		center = peak
	}
	total := Trapz(grid, fine)
	lo, hi := bandIndices(grid, center-PeakHalfWidth, center+PeakHalfWidth)
	peakPower := Trapz(grid[lo:hi], fine[lo:hi])

	res := Result{
		Freqs:      freqs,
		Power:      psd,
		PeakFreq:   peak,
		PeakPower:  peakPower,
		TotalPower: total,
	}
	if total > 0 {
		res.Coherence = peakPower / total
	}
	return res, true
}

// bandIndices returns the half-open index range of the sorted grid that lies
// within [lo, hi].
func bandIndices(grid []float64, lo, hi float64) (int, int) {
	start := len(grid)
	end := 0
	for i, f := range grid {
		if f >= lo && f <= hi {
			if i < start {
				start = i
			}
			end = i + 1
		}
	}
	if start > end {
		return 0, 0
	}
	return start, end
}

// Arange returns start, start+step, ... up to but excluding stop.
func Arange(start, stop, step float64) []float64 {
	if !(step > 0) || !(stop > start) {
		return nil
	}
	n := int(math.Ceil((stop-start)/step - 1e-9))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Interp linearly interpolates (xs, ys) at every xq. Queries outside the
// sample range take the nearest end value. xs must be strictly increasing.
func Interp(xq, xs, ys []float64) []float64 {
	out := make([]float64, len(xq))
	switch len(xs) {
	case 0:
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	case 1:
		for i := range out {
			out[i] = ys[0]
		}
		return out
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i, x := range xq {
		out[i] = pl.Predict(x)
	}
	return out
}

// Trapz integrates y over x with the trapezoidal rule. Fewer than two
// points integrate to zero.
func Trapz(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return integrate.Trapezoidal(x, y)
}

// Resample interpolates an irregular series onto a uniform grid of spacing
// dt covering [times[0], times[last]+dt). Points whose time does not
// strictly increase are dropped first.
func Resample(times, values []float64, dt float64) (grid, out []float64) {
	ts, vs := Monotonic(times, values)
	if len(ts) < 2 {
		return nil, nil
	}
	grid = Arange(ts[0], ts[len(ts)-1]+dt, dt)
	return grid, Interp(grid, ts, vs)
}

// Monotonic drops NaN samples and samples whose time does not strictly
// exceed the previous kept time.
func Monotonic(times, values []float64) ([]float64, []float64) {
	ts := make([]float64, 0, len(times))
	vs := make([]float64, 0, len(values))
	for i, t := range times {
		if math.IsNaN(t) || math.IsNaN(values[i]) {
			continue
		}
		if len(ts) > 0 && t <= ts[len(ts)-1] {
			continue
		}
		ts = append(ts, t)
		vs = append(vs, values[i])
	}
	return ts, vs
}
