package audio

import (
	"encoding/binary"
	"math"
)

// MeanAbsAmplitude computes the mean absolute amplitude of raw int16
// samples. The client-side energy gate compares this against an integer
// threshold in the int16 domain.
func MeanAbsAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(samples))
}

// RMSEnergy computes root-mean-square energy of 16-bit little-endian PCM,
// normalized to [0.0, 1.0]. The server-side VAD compares this against a
// normalized-float threshold.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / bytesPerSample
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += bytesPerSample {
		s := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(samples))
}
