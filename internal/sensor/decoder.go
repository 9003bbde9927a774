// Package sensor decodes heart-rate-monitor notification payloads into
// timestamped samples.
//
// Two payload families are supported: the standard GATT Heart Rate
// Measurement characteristic, which carries inter-beat intervals, and the
// Polar Measurement Data (PMD) stream, which carries accelerometer or ECG
// frames stamped with the device clock.
package sensor

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// Stream identifies the kind of samples a payload carried.
type Stream int

const (
	StreamUnknown Stream = iota
	StreamIBI
	StreamACC
	StreamECG
)

func (s Stream) String() string {
	switch s {
	case StreamIBI:
		return "ibi"
	case StreamACC:
		return "acc"
	case StreamECG:
		return "ecg"
	default:
		return "unknown"
	}
}

// PMD frame kinds (byte 0 of a PMD notification).
const (
	PMDKindECG byte = 0x00
	PMDKindACC byte = 0x02
)

const (
	// ACCSampleRate is the accelerometer stream rate in Hz.
	ACCSampleRate = 200.0
	// ECGSampleRate is the ECG stream rate in Hz.
	ECGSampleRate = 130.0

	pmdHeaderLen  = 10
	ecgSampleSize = 3
	maxFieldBytes = 8
)

// Heart Rate Measurement flag bits.
const (
	hrFlagUint16 = 1 << 0
	hrFlagEnergy = 1 << 3
	hrFlagRR     = 1 << 4
)

// Sample is a scalar sample: an IBI in milliseconds or an ECG value in µV.
// Time is epoch seconds.
type Sample struct {
	Time  float64 `json:"t"`
	Value float64 `json:"v"`
}

// AccSample is one accelerometer reading. Acc is in the device's units
// (raw counts / 100).
type AccSample struct {
	Time float64    `json:"t"`
	Acc  [3]float64 `json:"acc"`
}

// Frame is the decoded content of one PMD notification.
type Frame struct {
	Stream  Stream
	Samples []Sample    // ECG
	Acc     []AccSample // ACC
}

// Decoder converts raw payloads to samples. PMD timestamps are mapped onto
// the wall clock using an offset fixed by the first PMD frame seen; Reset
// clears it when a new connection starts.
type Decoder struct {
	clock timeutil.Clock

	mu     sync.Mutex
	synced bool
	offset float64 // seconds to add to device time to get epoch time
}

// NewDecoder returns a Decoder stamping samples with clock.
func NewDecoder(clock timeutil.Clock) *Decoder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Decoder{clock: clock}
}

// Reset forgets the device clock offset.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.synced = false
	d.offset = 0
}

// Offset returns the device-to-epoch offset and whether it has been fixed.
func (d *Decoder) Offset() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset, d.synced
}

// HeartRate returns the heart rate field of a Heart Rate Measurement payload.
func HeartRate(payload []byte) (int, bool) {
	if len(payload) < 2 {
		return 0, false
	}
	if payload[0]&hrFlagUint16 != 0 {
		if len(payload) < 3 {
			return 0, false
		}
		return int(binary.LittleEndian.Uint16(payload[1:3])), true
	}
	return int(payload[1]), true
}

// DecodeHeartRate extracts the IBIs of a Heart Rate Measurement payload in
// milliseconds. Every IBI is stamped with the current wall clock. Payloads
// without the RR flag yield no samples.
func (d *Decoder) DecodeHeartRate(payload []byte) []Sample {
	if len(payload) == 0 {
		return nil
	}
	flags := payload[0]
	if flags&hrFlagRR == 0 {
		return nil
	}

	first := 2
	if flags&hrFlagUint16 != 0 {
		first++
	}
	if flags&hrFlagEnergy != 0 {
		first += 2
	}

	var out []Sample
	for i := first; i+1 < len(payload); i += 2 {
		raw := binary.LittleEndian.Uint16(payload[i : i+2])
		out = append(out, Sample{
			Time:  timeutil.NowSeconds(d.clock),
			Value: math.Ceil(float64(raw) / 1024 * 1000),
		})
	}
	return out
}

// DecodePMD decodes an ACC or ECG frame. Unknown kinds and frames too short
// to hold a header decode to StreamUnknown with no samples; a partial
// trailing sample is dropped.
func (d *Decoder) DecodePMD(payload []byte) Frame {
	if len(payload) < pmdHeaderLen {
		return Frame{}
	}
	deviceT := float64(binary.LittleEndian.Uint64(payload[1:9])) / 1e9
	frameType := payload[9]
	data := payload[pmdHeaderLen:]

	switch payload[0] {
	case PMDKindACC:
		step := int(math.Ceil(float64((int(frameType)+1)*8) / 8))
		if step > maxFieldBytes {
			return Frame{}
		}
		n := len(data) / (step * 3)
		if n == 0 {
			return Frame{Stream: StreamACC}
		}
		t := d.firstSampleTime(deviceT, n, 1/ACCSampleRate)
		acc := make([]AccSample, n)
		for i := range acc {
			off := i * step * 3
			acc[i] = AccSample{
				Time: t + float64(i)/ACCSampleRate,
				Acc: [3]float64{
					float64(signedLE(data[off:off+step])) / 100,
					float64(signedLE(data[off+step:off+2*step])) / 100,
					float64(signedLE(data[off+2*step:off+3*step])) / 100,
				},
			}
		}
		return Frame{Stream: StreamACC, Acc: acc}

	case PMDKindECG:
		n := len(data) / ecgSampleSize
		if n == 0 {
			return Frame{Stream: StreamECG}
		}
		t := d.firstSampleTime(deviceT, n, 1/ECGSampleRate)
		samples := make([]Sample, n)
		for i := range samples {
			off := i * ecgSampleSize
			samples[i] = Sample{
				Time:  t + float64(i)/ECGSampleRate,
				Value: float64(signedLE(data[off : off+ecgSampleSize])),
			}
		}
		return Frame{Stream: StreamECG, Samples: samples}
	}
	return Frame{}
}

// firstSampleTime returns the epoch time of the first of n samples in a
// frame whose last sample was taken at device time deviceT.
func (d *Decoder) firstSampleTime(deviceT float64, n int, period float64) float64 {
	duration := float64(n-1) * period

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.synced {
		streamStartEpoch := timeutil.NowSeconds(d.clock) - duration
		streamStartDevice := deviceT - duration
		d.offset = streamStartEpoch - streamStartDevice
		d.synced = true
	}
	return deviceT - duration + d.offset
}

// signedLE interprets b (at most 8 bytes) as a little-endian two's
// complement integer.
func signedLE(b []byte) int64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	shift := uint(64 - 8*len(b))
	return int64(v<<shift) >> shift
}
