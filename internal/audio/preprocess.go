package audio

import (
	"encoding/binary"
	"math"
)

const (
	// Gain is applied to normalized samples before gating.
	Gain = 1.2
	// NoiseGate zeroes samples whose boosted magnitude is below this level.
	NoiseGate = 0.003
)

// Process normalizes, boosts, gates, clips and re-quantizes a frame of
// 16-bit little-endian PCM. It holds no state between calls. A trailing
// odd byte is dropped.
func Process(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(processSample(sample)))
	}
	return out
}

// ProcessFrame returns a copy of f with processed data.
func ProcessFrame(f Frame) Frame {
	f.Data = Process(f.Data)
	return f
}

func processSample(sample int16) int16 {
	x := float64(sample) / 32768.0
	x *= Gain
	if math.Abs(x) < NoiseGate {
		return 0
	}
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return int16(math.Round(x * 32767))
}
