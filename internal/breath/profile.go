package breath

import (
	"fmt"

	"github.com/banshee-data/hrv.report/internal/sensor"
)

// Profile holds the per-sensor breathing analysis parameters.
type Profile struct {
	Model sensor.Model `json:"model"`
	// SampleRate is the rate (Hz) chest acceleration is subsampled to.
	SampleRate float64 `json:"sample_rate"`
	// Subsample enables rate reduction for sensors streaming faster than
	// SampleRate.
	Subsample bool `json:"subsample"`
	// GravityAlpha is the EMA coefficient of the gravity estimate.
	GravityAlpha float64 `json:"gravity_alpha"`
	// NoiseAlpha is the EMA coefficient of the noise filter.
	NoiseAlpha float64 `json:"noise_alpha"`
	// ChestAxis is the unit vector pointing out of the chest in sensor axes.
	ChestAxis [3]float64 `json:"chest_axis"`
}

var profiles = map[sensor.Model]Profile{
	sensor.ModelPolarH10: {
		Model:        sensor.ModelPolarH10,
		SampleRate:   10,
		Subsample:    true,
		GravityAlpha: 0.999,
		NoiseAlpha:   0.98,
		ChestAxis:    [3]float64{0, 0, 1},
	},
	sensor.ModelCL800: {
		Model:        sensor.ModelCL800,
		SampleRate:   10,
		GravityAlpha: 0.99,
		NoiseAlpha:   0.9,
		ChestAxis:    [3]float64{0, 0, 1},
	},
	sensor.ModelSmartBelt: {
		Model:        sensor.ModelSmartBelt,
		SampleRate:   10,
		Subsample:    true,
		GravityAlpha: 0.9999,
		NoiseAlpha:   0.1,
		ChestAxis:    [3]float64{-0.5550, -0.5522, -0.6221},
	},
}

// ProfileFor returns the analysis parameters for a sensor model.
func ProfileFor(m sensor.Model) (Profile, error) {
	p, ok := profiles[m]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", sensor.ErrUnknownModel, m)
	}
	return p, nil
}

// DefaultProfile is the Polar H10 profile.
func DefaultProfile() Profile {
	return profiles[sensor.ModelPolarH10]
}
