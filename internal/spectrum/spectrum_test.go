package spectrum

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func sine(n int, fs, freq float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * freq * float64(i) / fs)
	}
	return x
}

func TestPeriodogramFrequencies(t *testing.T) {
	freqs, psd := Periodogram(make([]float64, 8), 4)
	want := []float64{0, 0.5, 1, 1.5, 2}
	if diff := cmp.Diff(want, freqs, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("freqs mismatch (-want +got):\n%s", diff)
	}
	for i, p := range psd {
		if p != 0 {
			t.Errorf("psd[%d] = %v for a zero signal", i, p)
		}
	}
}

func TestAnalysePureSine(t *testing.T) {
	const fs = 10.0
	res, ok := Analyse(sine(300, fs, 0.1), fs)
	if !ok {
		t.Fatal("Analyse() returned !ok")
	}
	if math.Abs(res.PeakFreq-0.1) > PeakHalfWidth {
		t.Errorf("PeakFreq = %v, want 0.1 ± %v", res.PeakFreq, PeakHalfWidth)
	}
	if res.Coherence <= 0.3 || res.Coherence > 1 {
		t.Errorf("Coherence = %v, want in (0.3, 1]", res.Coherence)
	}
	var sum float64
	for _, p := range res.Power {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("normalised power sums to %v", sum)
	}
}

func TestAnalyseNoiseLowersCoherence(t *testing.T) {
	const fs = 10.0
	pure := sine(300, fs, 0.1)
	noisy := make([]float64, len(pure))
	rng := rand.New(rand.NewSource(42))
	for i, v := range pure {
		noisy[i] = v + 4*(rng.Float64()-0.5)
	}

	a, ok := Analyse(pure, fs)
	if !ok {
		t.Fatal("pure: !ok")
	}
	b, ok := Analyse(noisy, fs)
	if !ok {
		t.Fatal("noisy: !ok")
	}
	if b.Coherence >= a.Coherence {
		t.Errorf("noisy coherence %v should be below pure coherence %v", b.Coherence, a.Coherence)
	}
}

func TestAnalyseRejectsShortInput(t *testing.T) {
	if _, ok := Analyse([]float64{1, 2}, 10); ok {
		t.Error("two samples should not produce a spectrum")
	}
	if _, ok := Analyse([]float64{1, 2, 3, 4}, 0); ok {
		t.Error("zero sample rate should not produce a spectrum")
	}
	if _, ok := Analyse([]float64{1, 2, 3, 4}, math.Inf(1)); ok {
		t.Error("infinite sample rate should not produce a spectrum")
	}
}

func TestArange(t *testing.T) {
	got := Arange(0, 0.02, 0.005)
	want := []float64{0, 0.005, 0.01, 0.015}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Arange mismatch (-want +got):\n%s", diff)
	}
	if Arange(1, 1, 0.1) != nil {
		t.Error("empty range should return nil")
	}
}

func TestInterp(t *testing.T) {
	got := Interp([]float64{-1, 0, 0.5, 1, 3}, []float64{0, 1, 2}, []float64{0, 10, 0})
	want := []float64{0, 0, 5, 10, 0}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Interp mismatch (-want +got):\n%s", diff)
	}
}

func TestTrapz(t *testing.T) {
	if got := Trapz([]float64{0, 0.5, 1}, []float64{0, 0.5, 1}); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Trapz(y=x) = %v, want 0.5", got)
	}
	if got := Trapz([]float64{1}, []float64{1}); got != 0 {
		t.Errorf("single point Trapz = %v, want 0", got)
	}
}

func TestResample(t *testing.T) {
	grid, out := Resample([]float64{0, 1, 1, 2}, []float64{0, 2, 99, 4}, 0.5)
	wantGrid := []float64{0, 0.5, 1, 1.5, 2}
	wantOut := []float64{0, 1, 2, 3, 4}
	if diff := cmp.Diff(wantGrid, grid, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantOut, out, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	if g, _ := Resample([]float64{1}, []float64{1}, 0.5); g != nil {
		t.Error("single sample should not resample")
	}
}

func TestAnalyseAroundPacingFrequency(t *testing.T) {
	const fs = 10.0
	x := sine(300, fs, 0.1)

	onPace, ok := AnalyseAround(x, fs, 0.1)
	if !ok {
		t.Fatal("AnalyseAround() returned !ok")
	}
	offPace, _ := AnalyseAround(x, fs, 0.3)
	dominant, _ := Analyse(x, fs)

	if math.Abs(offPace.PeakFreq-0.1) > PeakHalfWidth {
		t.Errorf("PeakFreq = %v should track the dominant frequency", offPace.PeakFreq)
	}
	if offPace.Coherence >= onPace.Coherence/2 {
		t.Errorf("off-pace coherence %v should be well below on-pace %v", offPace.Coherence, onPace.Coherence)
	}
	if math.Abs(onPace.Coherence-dominant.Coherence) > 0.2 {
		t.Errorf("pacing at the dominant frequency: %v vs %v", onPace.Coherence, dominant.Coherence)
	}
}
