package hrv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hrv.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func feed(a *Analyser, ibis []float64) []float64 {
	var hrvs []float64
	for i, ibi := range ibis {
		if v, ok := a.Update(float64(i), ibi); ok {
			hrvs = append(hrvs, v)
		}
	}
	return hrvs
}

func TestArtifactRejection(t *testing.T) {
	a := New()
	a.Update(0, 200)
	a.Update(1, 1700)
	assert.True(t, a.IBIHistory().IsEmpty(), "out of range IBIs must not reach the history")
	assert.True(t, a.HRHistory().IsEmpty())

	a.Update(2, 300)
	a.Update(3, 1600)
	assert.Equal(t, 2, a.IBIHistory().NValues(), "band edges are inclusive")
}

func TestHeartRate(t *testing.T) {
	a := New()
	a.Update(0, 750)
	_, hr := a.HRHistory().Last()
	assert.Equal(t, 80.0, hr)
}

func TestExtremumDetection(t *testing.T) {
	a := New()
	hrvs := feed(a, []float64{800, 820, 810})

	require.Len(t, hrvs, 1)
	assert.Equal(t, 20.0, hrvs[0])
	assert.Equal(t, 1, a.HRVHistory().NValues())
	tm, v := a.HRVHistory().Last()
	assert.Equal(t, 2.0, tm, "hrv is stamped at the sample that reveals the extreme")
	assert.Equal(t, 20.0, v)
}

func TestEndToEndIBIStream(t *testing.T) {
	a := New()
	hrvs := feed(a, []float64{900, 920, 940, 930, 910})

	assert.Equal(t, 5, a.HRHistory().NValues())
	require.Len(t, hrvs, 1)
	assert.Equal(t, 40.0, hrvs[0])
	tm, _ := a.HRVHistory().Last()
	assert.Equal(t, 3.0, tm)
}

func TestFlatIBIsProduceNoHRV(t *testing.T) {
	a := New()
	hrvs := feed(a, []float64{800, 800, 800, 800})
	assert.Empty(t, hrvs)
	assert.True(t, a.HRVHistory().IsEmpty())
}

func TestSmallHRVRejected(t *testing.T) {
	a := New()
	// extremes: 800 -> 900 (100) -> 800 (100) -> 810 (10, below 20% of 100)
	seq := []float64{800, 900, 800, 810, 805}
	hrvs := feed(a, seq)

	assert.Equal(t, []float64{100, 100}, hrvs)
	assert.Equal(t, 2, a.HRVHistory().NValues())
}

func TestPhaseDurationResets(t *testing.T) {
	a := New()
	feed(a, []float64{800, 820})
	assert.Equal(t, 1620.0, a.PhaseDuration())
	a.Update(2, 810)
	assert.Equal(t, 0.0, a.PhaseDuration())
}

func TestBreathByBreathMetrics(t *testing.T) {
	a := New()
	for i, ibi := range []float64{800, 850, 810, 860} {
		a.Update(float64(i+1), ibi)
	}

	m, ok := a.UpdateBreathByBreathMetrics(0, 4)
	require.True(t, ok)
	assert.InDelta(t, math.Sqrt((50*50+40*40+50*50)/3.0), m.RMSSD, 1e-9)
	assert.Equal(t, 60.0, m.MaxMin)
	// mean 830, squared deviations 900+400+400+900, unbiased
	assert.InDelta(t, math.Sqrt(2600.0/3), m.SDNN, 1e-9)

	tm, v := a.RMSSDHistory().Last()
	assert.Equal(t, 4.0, tm)
	assert.InDelta(t, m.RMSSD, v, 1e-12)
	_, v = a.MaxMinHistory().Last()
	assert.Equal(t, 60.0, v)
	_, v = a.SDNNHistory().Last()
	assert.InDelta(t, m.SDNN, v, 1e-12)

	assert.Equal(t, []float64{800, 850, 810, 860}, a.LastCycleIBI())
}

func TestBreathMetricsUsePredecessorOutsideWindow(t *testing.T) {
	a := New()
	for i, ibi := range []float64{700, 800, 900} {
		a.Update(float64(i+1), ibi)
	}
	// window holds 800 and 900; differences are 100 (from 700) and 100
	m, ok := a.UpdateBreathByBreathMetrics(1, 3)
	require.True(t, ok)
	assert.InDelta(t, 100.0, m.RMSSD, 1e-9)
	assert.Equal(t, 100.0, m.MaxMin)
}

func TestBreathMetricsSkipSparseWindow(t *testing.T) {
	a := New()
	a.Update(1, 800)
	a.Update(2, 810)

	_, ok := a.UpdateBreathByBreathMetrics(1.5, 2)
	assert.False(t, ok, "a single IBI cannot describe a breath")
	assert.True(t, a.RMSSDHistory().IsEmpty())
	assert.True(t, a.SDNNHistory().IsEmpty())
	assert.True(t, a.MaxMinHistory().IsEmpty())
	assert.Empty(t, a.LastCycleIBI())
}

func TestNN50(t *testing.T) {
	a := New()
	for i, ibi := range []float64{800, 900, 880, 800, 810} {
		a.Update(float64(i), ibi)
	}
	nn50, pnn50, ok := a.UpdateNN50()
	require.True(t, ok)
	// differences: 100, 20, 80, 10
	assert.Equal(t, 2.0, nn50)
	assert.Equal(t, 50.0, pnn50)

	tm, v := a.PNN50History().Last()
	assert.Equal(t, 4.0, tm)
	assert.Equal(t, 50.0, v)
	_, v = a.NN50History().Last()
	assert.Equal(t, 2.0, v)
}

func TestNN50TrailingWindow(t *testing.T) {
	a := New()
	a.Update(0, 600)
	a.Update(100, 800)
	a.Update(101, 810)
	_, pnn50, ok := a.UpdateNN50()
	require.True(t, ok)
	assert.Equal(t, 0.0, pnn50, "the jump from 600 is older than 30 s")
}

func TestCoherenceNeedsData(t *testing.T) {
	a := New()
	assert.False(t, a.UpdateCoherence())
	assert.True(t, math.IsNaN(a.Coherence()))

	a.Update(0, 800)
	a.Update(1, 810)
	assert.False(t, a.UpdateCoherence())
	assert.True(t, a.CoherenceHistory().IsEmpty())
}

func TestCoherenceOfResonantBreathing(t *testing.T) {
	a := New()
	// IBIs oscillating at 0.1 Hz (six breaths per minute) for 60 s
	tm := 0.0
	for tm < 60 {
		ibi := 900 + 100*math.Sin(2*math.Pi*0.1*tm)
		a.Update(tm, ibi)
		tm += ibi / 1000
	}

	require.True(t, a.UpdateCoherence())
	res, ok := a.Spectrum()
	require.True(t, ok)
	assert.InDelta(t, 0.1, res.PeakFreq, 0.03)
	c := a.Coherence()
	assert.Greater(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)
	assert.Equal(t, 1, a.CoherenceHistory().NValues())
}

func TestIBISubHistory(t *testing.T) {
	a := New()
	for i, ibi := range []float64{800, 810, 820, 830} {
		a.Update(float64(i), ibi)
	}
	sub := a.IBISubHistory(1, 2)
	assert.Equal(t, []float64{810, 820}, sub.Values())
}

func TestPacedCoherence(t *testing.T) {
	paced, free := New(), New()
	paced.SetPacingRate(18) // 0.3 Hz, away from the 0.1 Hz oscillation
	tm := 0.0
	for tm < 60 {
		ibi := 900 + 100*math.Sin(2*math.Pi*0.1*tm)
		paced.Update(tm, ibi)
		free.Update(tm, ibi)
		tm += ibi / 1000
	}
	require.True(t, paced.UpdateCoherence())
	require.True(t, free.UpdateCoherence())
	assert.Less(t, paced.Coherence(), free.Coherence())
}
