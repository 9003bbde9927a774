package sensor

import (
	"encoding/binary"
	"math"
)

// EncodeHeartRate builds a Heart Rate Measurement payload carrying bpm and
// the given IBIs (ms). Used by the synthetic bridge and replay tooling.
func EncodeHeartRate(bpm int, ibis []float64) []byte {
	flags := byte(hrFlagRR)
	out := []byte{flags}
	if bpm > 0xff {
		out[0] |= hrFlagUint16
		out = binary.LittleEndian.AppendUint16(out, uint16(bpm))
	} else {
		out = append(out, byte(bpm))
	}
	for _, ibi := range ibis {
		raw := math.Round(ibi / 1000 * 1024)
		out = binary.LittleEndian.AppendUint16(out, uint16(raw))
	}
	return out
}

// EncodeACC builds a 16-bit PMD accelerometer frame whose last sample was
// taken at deviceNs. Samples are raw counts (hundredths of the decoded unit).
func EncodeACC(deviceNs uint64, samples [][3]int16) []byte {
	out := make([]byte, 0, pmdHeaderLen+len(samples)*6)
	out = append(out, PMDKindACC)
	out = binary.LittleEndian.AppendUint64(out, deviceNs)
	out = append(out, 0x01)
	for _, s := range samples {
		for _, v := range s {
			out = binary.LittleEndian.AppendUint16(out, uint16(v))
		}
	}
	return out
}

// EncodeECG builds a PMD ECG frame of 24-bit samples (µV).
func EncodeECG(deviceNs uint64, samples []int32) []byte {
	out := make([]byte, 0, pmdHeaderLen+len(samples)*ecgSampleSize)
	out = append(out, PMDKindECG)
	out = binary.LittleEndian.AppendUint64(out, deviceNs)
	out = append(out, 0x00)
	for _, v := range samples {
		u := uint32(v)
		out = append(out, byte(u), byte(u>>8), byte(u>>16))
	}
	return out
}
