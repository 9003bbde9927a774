// Package publish pushes periodic metric snapshots to message brokers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// Publisher delivers one metrics snapshot to a broker.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, m model.Metrics) error
	Close() error
}

// MetricsSource is satisfied by *model.Model.
type MetricsSource interface {
	Metrics() model.Metrics
}

// Loop publishes a snapshot of Source to every publisher each Interval.
type Loop struct {
	Source     MetricsSource
	Publishers []Publisher
	Interval   time.Duration
	Clock      timeutil.Clock
}

// Run publishes until ctx is done. A failing publisher is logged and does
// not hold back the others.
func (l *Loop) Run(ctx context.Context) error {
	if l.Interval <= 0 {
		return fmt.Errorf("invalid publish interval %v", l.Interval)
	}
	clock := l.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.PublishOnce(ctx)
		}
	}
}

// PublishOnce sends the current metrics to every publisher and returns the
// joined errors.
func (l *Loop) PublishOnce(ctx context.Context) error {
	m := l.Source.Metrics()
	var errs []error
	for _, p := range l.Publishers {
		if err := p.Publish(ctx, m); err != nil {
			monitoring.Logf("publish: %s: %v", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (l *Loop) Close() error {
	var errs []error
	for _, p := range l.Publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// fields flattens m into string values, leaving out metrics without a value.
func fields(m model.Metrics) map[string]interface{} {
	out := map[string]interface{}{
		"t":           strconv.FormatFloat(m.Time, 'f', -1, 64),
		"connected":   strconv.FormatBool(m.Connected),
		"pacing_rate": strconv.FormatFloat(m.PacingRate, 'f', -1, 64),
	}
	if m.ReportedHR > 0 {
		out["reported_hr"] = strconv.Itoa(m.ReportedHR)
	}
	optional := map[string]*float64{
		"heart_rate":       m.HeartRate,
		"ibi":              m.IBI,
		"breathing_rate":   m.BreathingRate,
		"hrv":              m.HRV,
		"rmssd":            m.RMSSD,
		"maxmin":           m.MaxMin,
		"sdnn":             m.SDNN,
		"pnn50":            m.PNN50,
		"breath_coherence": m.BreathCoherence,
		"hr_coherence":     m.HRCoherence,
	}
	for k, v := range optional {
		if v != nil {
			out[k] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	return out
}

func encodeJSON(m model.Metrics) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return data, nil
}
