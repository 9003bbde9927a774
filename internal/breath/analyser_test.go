package breath

import (
	"math"
	"testing"

	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/sensor"
)

func init() {
	monitoring.SetLogger(nil)
}

func mustProfile(t *testing.T, m sensor.Model) Profile {
	t.Helper()
	p, err := ProfileFor(m)
	if err != nil {
		t.Fatalf("ProfileFor(%q): %v", m, err)
	}
	return p
}

func TestProfiles(t *testing.T) {
	h10 := mustProfile(t, sensor.ModelPolarH10)
	if !h10.Subsample || h10.GravityAlpha != 0.999 || h10.NoiseAlpha != 0.98 {
		t.Errorf("unexpected PolarH10 profile %+v", h10)
	}
	cl := mustProfile(t, sensor.ModelCL800)
	if cl.Subsample || cl.GravityAlpha != 0.99 || cl.NoiseAlpha != 0.9 {
		t.Errorf("unexpected CL800 profile %+v", cl)
	}
	belt := mustProfile(t, sensor.ModelSmartBelt)
	if belt.ChestAxis != [3]float64{-0.5550, -0.5522, -0.6221} {
		t.Errorf("unexpected SmartBelt axis %v", belt.ChestAxis)
	}
	if _, err := ProfileFor("Unknown"); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestBreathingRateFromZeroCrossings(t *testing.T) {
	a := New(DefaultProfile())

	steps := []struct {
		t, chest float64
	}{
		{9.9, 0.5},
		{10.0, -0.5}, // first descending crossing only marks the start
		{12.0, 0.5},
		{14.0, -0.5},
	}
	var breaths []Breath
	for _, s := range steps {
		if b, ok := a.updateChest(s.t, s.chest); ok {
			breaths = append(breaths, b)
		}
	}

	if len(breaths) != 1 {
		t.Fatalf("got %d breaths, want 1", len(breaths))
	}
	if breaths[0].Time != 14 || breaths[0].Rate != 15 {
		t.Errorf("breath = %+v, want rate 15 at t=14", breaths[0])
	}
	if a.RateHistory().NValues() != 1 {
		t.Errorf("rate history holds %d values, want 1", a.RateHistory().NValues())
	}
	if tm, v := a.RateHistory().Last(); tm != 14 || v != 15 {
		t.Errorf("rate history last = (%v, %v)", tm, v)
	}
	if a.BreathingRate() != 15 {
		t.Errorf("BreathingRate() = %v, want 15", a.BreathingRate())
	}
	if !a.EndOfBreath() {
		t.Error("EndOfBreath() should be set after an accepted breath")
	}

	markers := a.ChestHistory().Markers()
	if got := markers[len(markers)-1]; got != ChestHistorySize-1 {
		t.Errorf("newest chest marker = %d, want %d", got, ChestHistorySize-1)
	}
	idx, err := a.ChestHistory().Resolve(breaths[0].Marker)
	if err != nil || idx != ChestHistorySize-1 {
		t.Errorf("Resolve(marker) = (%d, %v)", idx, err)
	}

	a.updateChest(14.1, -0.4)
	if a.EndOfBreath() {
		t.Error("EndOfBreath() should clear on the next sample")
	}
}

func TestRejectsFastBreaths(t *testing.T) {
	a := New(DefaultProfile())
	a.updateChest(9.9, 1)
	a.updateChest(10, -1) // start
	a.updateChest(10.5, 1)
	if _, ok := a.updateChest(11, -1); ok {
		t.Fatal("60 breaths/min should be rejected")
	}
	if !a.RateHistory().IsEmpty() {
		t.Error("rejected breath must not reach the rate history")
	}
	if a.EndOfBreath() {
		t.Error("rejected breath must not set EndOfBreath")
	}

	// the rejected crossing still restarts the breath
	a.updateChest(13, 1)
	b, ok := a.updateChest(15, -1)
	if !ok || b.Rate != 15 {
		t.Errorf("breath after rejection = (%+v, %v), want rate 15", b, ok)
	}
}

func TestLastBreathRange(t *testing.T) {
	a := New(DefaultProfile())
	if _, _, ok := a.LastBreathRange(); ok {
		t.Fatal("expected no range before any breath")
	}
	crossings := []float64{10, 14, 19}
	for _, c := range crossings {
		a.updateChest(c-1, 1)
		a.updateChest(c, -1)
	}
	t0, t1, ok := a.LastBreathRange()
	if !ok || t0 != 14 || t1 != 19 {
		t.Errorf("LastBreathRange() = (%v, %v, %v), want (14, 19, true)", t0, t1, ok)
	}
}

func TestSubsamplingToTenHertz(t *testing.T) {
	a := New(mustProfile(t, sensor.ModelPolarH10))
	const start = 1000.0
	for i := 0; i < 2000; i++ { // 10 s at 200 Hz
		a.UpdateChestAcc(start+float64(i)/200, [3]float64{0, 0, 1})
	}
	n := a.ChestHistory().NValues()
	if n < 90 || n > 101 {
		t.Errorf("chest history holds %d samples after 10 s, want ~100", n)
	}
}

func TestNoSubsamplingForCL800(t *testing.T) {
	a := New(mustProfile(t, sensor.ModelCL800))
	for i := 0; i < 50; i++ {
		a.UpdateChestAcc(float64(i)/10, [3]float64{0, 0, 1})
	}
	if n := a.ChestHistory().NValues(); n != 50 {
		t.Errorf("chest history holds %d samples, want 50", n)
	}
}

func TestGravityRemoval(t *testing.T) {
	a := New(mustProfile(t, sensor.ModelCL800))
	// constant acceleration is entirely gravity
	for i := 0; i < 20; i++ {
		a.UpdateChestAcc(float64(i)/10, [3]float64{0.3, -0.2, 9.8})
	}
	_, v := a.ChestHistory().Last()
	if math.Abs(v) > 1e-12 {
		t.Errorf("chest signal for constant input = %v, want 0", v)
	}
}

func TestDetectsSyntheticBreathing(t *testing.T) {
	a := New(mustProfile(t, sensor.ModelCL800))
	const f = 0.2 // 12 breaths/min
	var breaths []Breath
	for i := 0; i < 600; i++ {
		tm := float64(i) / 10
		acc := [3]float64{0, 0, 1 + 0.05*math.Sin(2*math.Pi*f*tm)}
		if b, ok := a.UpdateChestAcc(tm, acc); ok {
			breaths = append(breaths, b)
		}
	}
	if len(breaths) < 8 {
		t.Fatalf("detected %d breaths in 60 s, want at least 8", len(breaths))
	}
	last := breaths[len(breaths)-1]
	if math.Abs(last.Rate-12) > 0.5 {
		t.Errorf("breathing rate = %v, want ~12", last.Rate)
	}
}

func TestBreathingSpectrum(t *testing.T) {
	a := New(DefaultProfile())
	if a.UpdateSpectrum() {
		t.Fatal("spectrum should need at least 3 samples")
	}

	const f = 0.2
	for i := 0; i < 400; i++ {
		tm := 100 + float64(i)/10
		a.updateChest(tm, math.Sin(2*math.Pi*f*tm))
	}
	if !a.UpdateSpectrum() {
		t.Fatal("UpdateSpectrum() = false")
	}
	res, ok := a.Spectrum()
	if !ok {
		t.Fatal("Spectrum() not available")
	}
	if math.Abs(res.PeakFreq-f) > 0.015 {
		t.Errorf("peak frequency = %v, want %v", res.PeakFreq, f)
	}
	if c := a.Coherence(); c <= 0.3 || c > 1 {
		t.Errorf("coherence = %v", c)
	}
}

func TestDiscCoords(t *testing.T) {
	a := New(DefaultProfile())
	x, y := a.DiscCoords()
	if len(x) != DiscPoints || len(y) != DiscPoints {
		t.Fatalf("got %d/%d points, want %d", len(x), len(y), DiscPoints)
	}
	for i := range x {
		if x[i] != 0 || y[i] != 0 {
			t.Fatalf("empty history should give a zero radius disc, got (%v, %v)", x[i], y[i])
		}
	}

	a.updateChest(1, 1)
	x, _ = a.DiscCoords()
	if x[0] != 1 {
		t.Errorf("radius = %v, want clamped to 1", x[0])
	}
}

func TestChestSubHistory(t *testing.T) {
	a := New(DefaultProfile())
	for i := 0; i < 10; i++ {
		a.updateChest(float64(i), 1)
	}
	sub := a.ChestSubHistory(3, 5)
	if sub.Len() != 3 {
		t.Errorf("sub history len = %d, want 3", sub.Len())
	}
}
