// Package pacer drives the breathing guide disc whose radius swells and
// shrinks at a target breathing rate.
package pacer

import (
	"math"

	"github.com/banshee-data/hrv.report/internal/breath"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// Default and allowed pacing rates in breaths per minute.
const (
	DefaultRate = 6.0
	MinRate     = 1.0
	MaxRate     = 30.0
)

// Radius returns the disc radius in [0, 1] for a pacing rate (breaths/min) at
// time t (epoch s).
func Radius(rate, t float64) float64 {
	return 0.5 + 0.5*math.Sin(2*math.Pi*rate/60*t)
}

// Pacer computes the guide disc from wall-clock time so that late or jittery
// redraws stay in phase.
type Pacer struct {
	clock timeutil.Clock
}

// New returns a Pacer reading time from clock. A nil clock uses the system
// clock.
func New(clock timeutil.Clock) *Pacer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pacer{clock: clock}
}

// Disc returns the disc outline for rate at the current time. Rates outside
// [MinRate, MaxRate] are clamped.
func (p *Pacer) Disc(rate float64) (x, y []float64) {
	if math.IsNaN(rate) {
		rate = DefaultRate
	}
	rate = math.Min(math.Max(rate, MinRate), MaxRate)
	return breath.Circle(Radius(rate, timeutil.NowSeconds(p.clock)), breath.DiscPoints)
}
