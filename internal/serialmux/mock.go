package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/hrv.report/internal/sensor"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// SyntheticSensor produces bridge lines for a simulated chest strap breathing
// and modulating its heart rate at a fixed rate.
type SyntheticSensor struct {
	// BreathingRate in breaths per minute.
	BreathingRate float64
	// MeanIBI and IBIAmplitude shape the IBI oscillation in ms.
	MeanIBI      float64
	IBIAmplitude float64
	// ChestAmplitude is the chest axis excursion in raw counts.
	ChestAmplitude float64

	t        float64 // simulated seconds since start
	nextBeat float64
	accDue   float64
	pending  []float64
}

// NewSyntheticSensor returns a sensor breathing at six breaths per minute.
func NewSyntheticSensor() *SyntheticSensor {
	return &SyntheticSensor{
		BreathingRate:  6,
		MeanIBI:        900,
		IBIAmplitude:   80,
		ChestAmplitude: 40,
	}
}

// Info returns the device information lines the sensor answers INFO with.
func (s *SyntheticSensor) Info() []string {
	values := map[string][]byte{
		sensor.CharManufacturer: []byte("Polar Electro Oy"),
		sensor.CharModelNumber:  []byte("Polar H10"),
		sensor.CharSerialNumber: []byte("00000000"),
		sensor.CharFirmwareRev:  []byte("5.0.0"),
		sensor.CharBatteryLevel: {100},
	}
	var lines []string
	for _, char := range sensor.DeviceInfoCharacteristics {
		if v, ok := values[char]; ok {
			lines = append(lines, Notification{Stream: StreamInfo, Characteristic: char, Payload: v}.String())
		}
	}
	return lines
}

// Advance moves simulated time forward by dt and returns the lines the
// bridge would have written meanwhile.
func (s *SyntheticSensor) Advance(dt time.Duration) []string {
	end := s.t + dt.Seconds()
	phase := func(t float64) float64 { return math.Sin(2 * math.Pi * s.BreathingRate / 60 * t) }

	var lines []string
	var acc [][3]int16
	for s.accDue <= end {
		z := 1000 + s.ChestAmplitude*phase(s.accDue)
		acc = append(acc, [3]int16{0, 0, int16(math.Round(z))})
		s.accDue += 1 / sensor.ACCSampleRate
	}
	if len(acc) > 0 {
		last := s.accDue - 1/sensor.ACCSampleRate
		lines = append(lines, Notification{
			Stream:  StreamPMD,
			Payload: sensor.EncodeACC(uint64(last*1e9), acc),
		}.String())
	}

	for s.nextBeat <= end {
		ibi := s.MeanIBI + s.IBIAmplitude*phase(s.nextBeat)
		s.pending = append(s.pending, ibi)
		s.nextBeat += ibi / 1000
	}
	if len(s.pending) > 0 {
		ibi := s.pending[len(s.pending)-1]
		lines = append(lines, Notification{
			Stream:  StreamHeartRate,
			Payload: sensor.EncodeHeartRate(int(math.Round(60000/ibi)), s.pending),
		}.String())
		s.pending = s.pending[:0]
	}

	s.t = end
	return lines
}

// MockSerialPort is a SerialPorter fed by a SyntheticSensor. Commands
// written to it are recorded; an INFO command is answered with device
// information lines.
type MockSerialPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	commands bytes.Buffer
	info     []string
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	m.commands.Write(p)
	answer := bytes.HasPrefix(bytes.TrimSpace(p), []byte(InfoCommand()))
	info := m.info
	m.mu.Unlock()

	if answer {
		go func() {
			for _, line := range info {
				if _, err := io.WriteString(m.w, line+"\n"); err != nil {
					return
				}
			}
		}()
	}
	return len(p), nil
}

// Close stops the generator.
func (m *MockSerialPort) Close() error {
	m.w.Close()
	return m.r.Close()
}

// Commands returns everything written to the port.
func (m *MockSerialPort) Commands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands.String()
}

// NewMockSerialMux creates a SerialMux fed by a SyntheticSensor in real time,
// emitting a batch of notifications every interval.
func NewMockSerialMux(synth *SyntheticSensor, interval time.Duration, opts ...Option) *SerialMux[*MockSerialPort] {
	if synth == nil {
		synth = NewSyntheticSensor()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	cfg := muxConfig{clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(&cfg)
	}

	r, w := io.Pipe()
	port := &MockSerialPort{r: r, w: w, info: synth.Info()}

	go func() {
		ticker := cfg.clock.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C() {
			for _, line := range synth.Advance(interval) {
				if _, err := io.WriteString(w, line+"\n"); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(port, opts...)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	ReadCalls  int
	WriteCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

var errPortClosed = errors.New("serial port closed")

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errPortClosed
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err = t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()

	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// AddLines queues bridge lines, each terminated by a newline.
func (t *TestableSerialPort) AddLines(lines ...string) {
	var b bytes.Buffer
	for _, l := range lines {
		fmt.Fprintln(&b, l)
	}
	t.AddReadData(b.Bytes())
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}
