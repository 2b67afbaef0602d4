package audio

import "math"

// loudnessGain scales the raw RMS so normal speech lands in the upper half of
// the [0, 1] range; raw RMS over int16 speech rarely exceeds a tenth of the
// sample range.
const loudnessGain = 10.0

// RMS computes the root mean square of a chunk of little-endian int16 PCM,
// in raw sample units (0..32767). Chunks shorter than one sample yield 0.
// Trailing odd bytes are ignored.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples*2; i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}

// ChunkLoudness computes the normalized loudness of a chunk of little-endian
// int16 PCM: gain × RMS / 32768, clipped to [0, 1].
func ChunkLoudness(pcm []byte) float64 {
	v := loudnessGain * RMS(pcm) / 32768.0
	if v > 1 {
		v = 1
	}
	return v
}
