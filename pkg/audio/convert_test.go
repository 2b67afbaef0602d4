package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/moksori-live/moksori/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	mono := samplesToBytes([]int16{100, 200, 300})
	got := bytesToSamples(audio.MonoToStereo(mono))
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMonoClamping(t *testing.T) {
	t.Parallel()

	stereo := samplesToBytes([]int16{32767, 32767, -32768, -32768})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if got[0] != 32767 {
		t.Errorf("positive clamp: got %d, want 32767", got[0])
	}
	if got[1] != -32768 {
		t.Errorf("negative clamp: got %d, want -32768", got[1])
	}
}

func TestResample16Doubling(t *testing.T) {
	t.Parallel()

	// 4 mono samples at 8 kHz resampled to 16 kHz must yield 8 samples with
	// the originals present at even positions.
	src := samplesToBytes([]int16{0, 1000, 2000, 3000})
	got := bytesToSamples(audio.Resample16(src, 1, 8000, 16000))
	if len(got) != 8 {
		t.Fatalf("length: got %d samples, want 8", len(got))
	}
	for i, want := range []int16{0, 1000, 2000, 3000} {
		if got[i*2] != want {
			t.Errorf("sample %d: got %d, want %d", i*2, got[i*2], want)
		}
	}
}

func TestResample16SameRateUnchanged(t *testing.T) {
	t.Parallel()

	src := samplesToBytes([]int16{1, 2, 3})
	got := audio.Resample16(src, 1, 22050, 22050)
	if &got[0] != &src[0] {
		t.Error("same-rate resample must return the input slice")
	}
}

func TestConvertMonoToDiscordFormat(t *testing.T) {
	t.Parallel()

	from := audio.Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
	to := audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}

	src := samplesToBytes([]int16{100, 200, 300, 400})
	got, err := audio.Convert(src, from, to)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	// 4 mono samples at 24 kHz → 8 samples at 48 kHz → 16 interleaved stereo.
	if len(got) != 8*4 {
		t.Fatalf("length: got %d bytes, want %d", len(got), 8*4)
	}
	pairs := bytesToSamples(got)
	for i := 0; i < len(pairs); i += 2 {
		if pairs[i] != pairs[i+1] {
			t.Fatalf("frame %d: L=%d R=%d, want duplicated channels", i/2, pairs[i], pairs[i+1])
		}
	}
}

func TestConvertRejectsOddInput(t *testing.T) {
	t.Parallel()

	from := audio.Format{SampleRate: 22050, Channels: 1, BitsPerSample: 16}
	if _, err := audio.Convert([]byte{1, 2, 3}, from, from); err == nil {
		t.Fatal("want error for odd byte count, got nil")
	}
}
