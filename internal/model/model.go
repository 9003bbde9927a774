// Package model wires the sample decoder, the breath analyser and the HRV
// analyser together. It routes decoded samples to the analysers, triggers
// per-breath HRV metrics when a breath ends, recomputes spectra on a ticker
// and offers snapshot accessors for presentation layers.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hrv.report/internal/breath"
	"github.com/banshee-data/hrv.report/internal/history"
	"github.com/banshee-data/hrv.report/internal/hrv"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/pacer"
	"github.com/banshee-data/hrv.report/internal/sensor"
	"github.com/banshee-data/hrv.report/internal/serialmux"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// ECGHistorySize holds ten seconds of ECG at 130 Hz.
const ECGHistorySize = 1300

var (
	ErrAlreadyConnected = errors.New("sensor already connected")
	ErrNoLink           = errors.New("no sensor link")
)

// Options configures a Model.
type Options struct {
	Clock   timeutil.Clock
	Profile breath.Profile
	// PacingRate (breaths/min) centres both coherence bands. Zero uses the
	// dominant frequency of each spectrum.
	PacingRate float64
}

// BreathEvent is delivered to OnBreath callbacks when a breath ends.
type BreathEvent struct {
	Breath breath.Breath
	// Metrics is valid when HasMetrics is true; a breath holding fewer than
	// two IBIs produces none.
	Metrics    hrv.BreathMetrics
	HasMetrics bool
}

// SpectraEvent is delivered to OnSpectra callbacks after UpdateSpectra.
type SpectraEvent struct {
	Time            float64
	BreathSpectrum  bool
	BreathCoherence float64
	HRSpectrum      bool
	HRCoherence     float64
	PNN50           float64
	HasPNN50        bool
}

// Model is the orchestrator. Sample ingestion is serialised internally, so
// the On* methods may be called from any goroutine.
type Model struct {
	clock   timeutil.Clock
	decoder *sensor.Decoder
	breath  *breath.Analyser
	hrv     *hrv.Analyser
	pacer   *pacer.Pacer
	ecg     *history.Buffer

	mu sync.Mutex // serialises analyser updates

	stateMu    sync.RWMutex
	device     sensor.DeviceInfo
	reportedHR int
	pacingRate float64
	lastBreath BreathEvent

	cbMu      sync.RWMutex
	onBreath  []func(BreathEvent)
	onSpectra []func(SpectraEvent)

	breathEnd atomic.Bool
	connected atomic.Bool

	linkMu sync.Mutex
	link   serialmux.SerialMuxInterface
	subID  string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Model with empty histories.
func New(opts Options) *Model {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Profile.SampleRate == 0 {
		opts.Profile = breath.DefaultProfile()
	}
	m := &Model{
		clock:   opts.Clock,
		decoder: sensor.NewDecoder(opts.Clock),
		breath:  breath.New(opts.Profile),
		hrv:     hrv.New(),
		pacer:   pacer.New(opts.Clock),
		ecg:     history.New(ECGHistorySize),
	}
	m.SetPacingRate(opts.PacingRate)
	return m
}

// OnBreath registers fn to run after every accepted breath. Callbacks run on
// the ingesting goroutine and must not block.
func (m *Model) OnBreath(fn func(BreathEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onBreath = append(m.onBreath, fn)
}

// OnSpectra registers fn to run after every UpdateSpectra.
func (m *Model) OnSpectra(fn func(SpectraEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onSpectra = append(m.onSpectra, fn)
}

// OnIBISample feeds one IBI to the HRV analyser.
func (m *Model) OnIBISample(s sensor.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hrv.Update(s.Time, s.Value)
}

// OnAccSample feeds one accelerometer sample to the breath analyser. When it
// completes a breath, the HRV metrics of that breath are computed before the
// OnBreath callbacks run.
func (m *Model) OnAccSample(s sensor.AccSample) {
	m.mu.Lock()
	b, ok := m.breath.UpdateChestAcc(s.Time, s.Acc)
	if !ok {
		m.mu.Unlock()
		return
	}
	ev := BreathEvent{Breath: b}
	if t0, t1, ok := m.breath.LastBreathRange(); ok {
		ev.Metrics, ev.HasMetrics = m.hrv.UpdateBreathByBreathMetrics(t0, t1)
	}
	m.mu.Unlock()

	m.stateMu.Lock()
	m.lastBreath = ev
	m.stateMu.Unlock()
	m.breathEnd.Store(true)

	m.cbMu.RLock()
	callbacks := m.onBreath
	m.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(ev)
	}
}

// TakeBreathEnd reports whether a breath ended since the previous call.
func (m *Model) TakeBreathEnd() bool {
	return m.breathEnd.CompareAndSwap(true, false)
}

// OnHeartRatePayload decodes a Heart Rate Measurement notification.
func (m *Model) OnHeartRatePayload(payload []byte) {
	if bpm, ok := sensor.HeartRate(payload); ok {
		m.stateMu.Lock()
		m.reportedHR = bpm
		m.stateMu.Unlock()
	}
	for _, s := range m.decoder.DecodeHeartRate(payload) {
		m.OnIBISample(s)
	}
}

// OnPMDPayload decodes a PMD data notification.
func (m *Model) OnPMDPayload(payload []byte) {
	frame := m.decoder.DecodePMD(payload)
	switch frame.Stream {
	case sensor.StreamACC:
		for _, s := range frame.Acc {
			m.OnAccSample(s)
		}
	case sensor.StreamECG:
		for _, s := range frame.Samples {
			m.ecg.Update(s.Time, s.Value)
		}
	}
}

// OnNotification routes one bridge notification.
func (m *Model) OnNotification(n serialmux.Notification) {
	switch n.Stream {
	case serialmux.StreamHeartRate:
		m.OnHeartRatePayload(n.Payload)
	case serialmux.StreamPMD:
		m.OnPMDPayload(n.Payload)
	case serialmux.StreamInfo:
		m.stateMu.Lock()
		err := m.device.Set(n.Characteristic, n.Payload)
		m.stateMu.Unlock()
		if err != nil {
			monitoring.Logf("model: device info: %v", err)
		}
	case serialmux.StreamError:
		monitoring.Logf("model: bridge error: %s", n.Payload)
	}
}

// UpdateSpectra recomputes the breathing spectrum, heart rate coherence and
// pNN50. Computations without enough data keep their previous results.
func (m *Model) UpdateSpectra() SpectraEvent {
	m.mu.Lock()
	ev := SpectraEvent{Time: timeutil.NowSeconds(m.clock)}
	ev.BreathSpectrum = m.breath.UpdateSpectrum()
	ev.HRSpectrum = m.hrv.UpdateCoherence()
	_, ev.PNN50, ev.HasPNN50 = m.hrv.UpdateNN50()
	ev.BreathCoherence = m.breathCoherence()
	ev.HRCoherence = m.hrv.Coherence()
	m.mu.Unlock()

	m.cbMu.RLock()
	callbacks := m.onSpectra
	m.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(ev)
	}
	return ev
}

func (m *Model) breathCoherence() float64 {
	if _, ok := m.breath.Spectrum(); !ok {
		return math.NaN()
	}
	return m.breath.Coherence()
}

// Run calls UpdateSpectra every interval until ctx is done.
func (m *Model) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid spectrum interval %v", interval)
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			m.UpdateSpectra()
		}
	}
}

// Connect subscribes to link, starts reading it and asks the bridge to
// start streaming. Samples decoded from the link reach the analysers until
// Disconnect is called or ctx is done.
func (m *Model) Connect(ctx context.Context, link serialmux.SerialMuxInterface) error {
	if link == nil {
		return ErrNoLink
	}
	m.linkMu.Lock()
	defer m.linkMu.Unlock()
	if m.link != nil {
		return ErrAlreadyConnected
	}

	m.decoder.Reset()
	m.stateMu.Lock()
	m.device = sensor.DeviceInfo{}
	m.stateMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	id, ch := link.Subscribe()
	m.connected.Store(true)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("model: sensor link: %v", err)
		}
		m.connected.Store(false)
	}()
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				m.OnNotification(n)
			}
		}
	}()

	if err := link.Initialize(); err != nil {
		m.connected.Store(false)
		cancel()
		link.Unsubscribe(id)
		m.wg.Wait()
		return fmt.Errorf("failed to start sensor streams: %w", err)
	}

	m.link, m.subID, m.cancel = link, id, cancel
	monitoring.Logf("model: sensor connected")
	return nil
}

// Disconnect stops reading the link and closes it. Histories and spectra are
// kept and keep being served as stale data.
func (m *Model) Disconnect() error {
	m.linkMu.Lock()
	defer m.linkMu.Unlock()
	if m.link == nil {
		return nil
	}
	m.connected.Store(false)
	m.cancel()
	m.link.Unsubscribe(m.subID)
	err := m.link.Close()
	m.wg.Wait()
	m.link, m.subID, m.cancel = nil, "", nil
	if err != nil {
		return fmt.Errorf("failed to close sensor link: %w", err)
	}
	monitoring.Logf("model: sensor disconnected")
	return nil
}

// Connected reports whether a sensor link is up.
func (m *Model) Connected() bool { return m.connected.Load() }

// Device returns the device information read after connecting.
func (m *Model) Device() sensor.DeviceInfo {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.device
}

// SetPacingRate sets the guide rate in breaths per minute. Zero or less
// reverts both coherence bands to the dominant frequency.
func (m *Model) SetPacingRate(rate float64) {
	if math.IsNaN(rate) || rate < 0 {
		rate = 0
	}
	m.stateMu.Lock()
	m.pacingRate = rate
	m.stateMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.breath.SetPacingRate(rate)
	m.hrv.SetPacingRate(rate)
}

// PacingRate returns the configured pacing rate, or 0.
func (m *Model) PacingRate() float64 {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.pacingRate
}

// BreathDisc returns the disc outline following the chest expansion.
func (m *Model) BreathDisc() (x, y []float64) {
	return m.breath.DiscCoords()
}

// PacerDisc returns the guide disc for rate. A rate that is not positive
// uses the configured pacing rate, then pacer.DefaultRate.
func (m *Model) PacerDisc(rate float64) (x, y []float64) {
	if !(rate > 0) {
		rate = m.PacingRate()
	}
	if !(rate > 0) {
		rate = pacer.DefaultRate
	}
	return m.pacer.Disc(rate)
}

// Breath returns the breath analyser.
func (m *Model) Breath() *breath.Analyser { return m.breath }

// HRV returns the HRV analyser.
func (m *Model) HRV() *hrv.Analyser { return m.hrv }

// ECGHistory returns the raw ECG buffer.
func (m *Model) ECGHistory() *history.Buffer { return m.ecg }

// Clock returns the model's time source.
func (m *Model) Clock() timeutil.Clock { return m.clock }
