package audio

import "fmt"

// Convert rewrites little-endian int16 PCM from one format to another.
// Resampling happens before channel conversion so stereo data is never
// resampled when the target is mono. Only 16-bit formats are supported.
//
// The input slice is returned unchanged when from == to.
func Convert(pcm []byte, from, to Format) ([]byte, error) {
	if from.BitsPerSample != 16 || to.BitsPerSample != 16 {
		return nil, fmt.Errorf("audio: convert supports 16-bit PCM only, got %d -> %d bits",
			from.BitsPerSample, to.BitsPerSample)
	}
	if from.Channels < 1 || from.Channels > 2 || to.Channels < 1 || to.Channels > 2 {
		return nil, fmt.Errorf("audio: convert supports mono and stereo only, got %d -> %d channels",
			from.Channels, to.Channels)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in int16 PCM", len(pcm))
	}

	out := pcm
	if from.SampleRate != to.SampleRate {
		out = Resample16(out, from.Channels, from.SampleRate, to.SampleRate)
	}
	switch {
	case from.Channels == 1 && to.Channels == 2:
		out = MonoToStereo(out)
	case from.Channels == 2 && to.Channels == 1:
		out = StereoToMono(out)
	}
	return out, nil
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 resamples 16-bit PCM with the given interleaved channel count
// from srcRate to dstRate using linear interpolation. The input is returned
// unchanged when the rates match or when it is shorter than one frame.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	frameSize := channels * 2
	srcFrames := len(pcm) / frameSize
	if srcFrames < 1 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for c := range channels {
			o0 := srcIdx*frameSize + c*2
			s0 := int16(pcm[o0]) | int16(pcm[o0+1])<<8
			s1 := s0
			if srcIdx+1 < srcFrames {
				o1 := (srcIdx+1)*frameSize + c*2
				s1 = int16(pcm[o1]) | int16(pcm[o1+1])<<8
			}

			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			j := i*frameSize + c*2
			out[j] = byte(v)
			out[j+1] = byte(v >> 8)
		}
	}
	return out
}
